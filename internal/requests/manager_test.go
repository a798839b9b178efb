package requests

import (
	"context"
	"errors"
	"testing"

	"usrbg-bot/internal/auth"
	"usrbg-bot/internal/database/models"
	"usrbg-bot/internal/locales"
	"usrbg-bot/internal/pending"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testRequestChannel = "req-chan"
	testLogChannel     = "log-chan"
	testModRole        = "mod-role"
	testGuild          = "guild-1"
)

func TestMain(m *testing.M) {
	locales.Init("en")
	m.Run()
}

// --- Mocks ---

// MockSession is a mock implementing the discordapi.Session interface.
type MockSession struct {
	mock.Mock
	edits []*discordgo.MessageEdit
}

func (s *MockSession) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := s.Called(channelID, messageID)
	if msg, ok := args.Get(0).(*discordgo.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (s *MockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := s.Called(channelID, data)
	if msg, ok := args.Get(0).(*discordgo.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (s *MockSession) ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := s.Called(channelID, content, reference)
	if msg, ok := args.Get(0).(*discordgo.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (s *MockSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.edits = append(s.edits, m)
	args := s.Called(m)
	if msg, ok := args.Get(0).(*discordgo.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (s *MockSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	args := s.Called(channelID, messageID)
	return args.Error(0)
}

func (s *MockSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	args := s.Called(interaction, resp)
	return args.Error(0)
}

func (s *MockSession) FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := s.Called(interaction, wait, data)
	if msg, ok := args.Get(0).(*discordgo.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

// editTitles returns the embed titles of all edits, in order.
func (s *MockSession) editTitles() []string {
	titles := make([]string, 0, len(s.edits))
	for _, edit := range s.edits {
		if edit.Embeds != nil && len(*edit.Embeds) > 0 {
			titles = append(titles, (*edit.Embeds)[0].Title)
		}
	}
	return titles
}

// MockUploader is a mock for the Uploader interface.
type MockUploader struct {
	mock.Mock
}

func (u *MockUploader) Upload(ctx context.Context, imageURL, uid string) (string, error) {
	args := u.Called(ctx, imageURL, uid)
	return args.String(0), args.Error(1)
}

// MockBannerRepo is a mock for database.BannerRepository.
type MockBannerRepo struct {
	mock.Mock
}

func (r *MockBannerRepo) UpsertBanner(ctx context.Context, banner *models.Banner) error {
	args := r.Called(ctx, banner)
	return args.Error(0)
}

func (r *MockBannerRepo) DeleteBanner(ctx context.Context, uid string) error {
	args := r.Called(ctx, uid)
	return args.Error(0)
}

// MockBlacklistRepo is a mock for database.BlacklistRepository.
type MockBlacklistRepo struct {
	mock.Mock
}

func (r *MockBlacklistRepo) IsBlacklisted(ctx context.Context, uid string) (bool, error) {
	args := r.Called(ctx, uid)
	return args.Bool(0), args.Error(1)
}

func (r *MockBlacklistRepo) Ban(ctx context.Context, entry *models.BanEntry) error {
	args := r.Called(ctx, entry)
	return args.Error(0)
}

func (r *MockBlacklistRepo) Unban(ctx context.Context, uid string) error {
	args := r.Called(ctx, uid)
	return args.Error(0)
}

// --- Fixtures ---

type testEnv struct {
	manager   *Manager
	index     *pending.Index
	session   *MockSession
	uploader  *MockUploader
	banners   *MockBannerRepo
	blacklist *MockBlacklistRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	session := &MockSession{}
	uploader := &MockUploader{}
	banners := &MockBannerRepo{}
	blacklist := &MockBlacklistRepo{}
	index := pending.NewIndex()

	checker, err := auth.NewRoleChecker(testModRole)
	require.NoError(t, err)

	manager, err := NewManager(ManagerDeps{
		Session:           session,
		Index:             index,
		Banners:           banners,
		Blacklist:         blacklist,
		Checker:           checker,
		Uploader:          uploader,
		RequestChannelID:  testRequestChannel,
		LogChannelID:      testLogChannel,
		AllowedImageTypes: []string{"image/png", "image/jpeg"},
		MaxImageSize:      1 << 20,
	})
	require.NoError(t, err)

	return &testEnv{
		manager:   manager,
		index:     index,
		session:   session,
		uploader:  uploader,
		banners:   banners,
		blacklist: blacklist,
	}
}

func submissionMessage(userID, messageID string, att *discordgo.MessageAttachment, roles ...string) *discordgo.Message {
	msg := &discordgo.Message{
		ID:        messageID,
		GuildID:   testGuild,
		ChannelID: testRequestChannel,
		Author:    &discordgo.User{ID: userID, Username: "user-" + userID},
		Member:    &discordgo.Member{Roles: roles},
	}
	if att != nil {
		msg.Attachments = []*discordgo.MessageAttachment{att}
	}
	return msg
}

func pngAttachment() *discordgo.MessageAttachment {
	return &discordgo.MessageAttachment{
		URL:         "https://cdn.example/attachments/a.png",
		ContentType: "image/png",
		Size:        2048,
	}
}

func logMessage(logID, title, uid, sourceID, imageRef string) *discordgo.Message {
	embed := buildRequestEmbed(title, "user-"+uid, uid, imageRef, messageLink(testGuild, testRequestChannel, sourceID))
	return &discordgo.Message{
		ID:        logID,
		ChannelID: testLogChannel,
		Embeds:    []*discordgo.MessageEmbed{embed},
	}
}

func componentInteraction(customID, actorID string, msg *discordgo.Message, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionMessageComponent,
			GuildID: testGuild,
			Data:    discordgo.MessageComponentInteractionData{CustomID: customID},
			Member: &discordgo.Member{
				Roles: roles,
				User:  &discordgo.User{ID: actorID},
			},
			Message: msg,
		},
	}
}

// --- Submit ---

func TestHandleSubmissionCreatesPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	msg := submissionMessage("u1", "src1", pngAttachment())

	env.blacklist.On("IsBlacklisted", mock.Anything, "u1").Return(false, nil)
	env.session.On("ChannelMessageSendComplex", testLogChannel, mock.Anything).
		Return(&discordgo.Message{ID: "log1"}, nil)

	require.NoError(t, env.manager.HandleSubmission(context.Background(), msg))

	req, ok := env.index.RemoveBySubmitter("u1")
	require.True(t, ok)
	assert.Equal(t, "log1", req.LogMessageID)
	assert.Equal(t, "src1", req.SourceMessageID)
	assert.Equal(t, pngAttachment().URL, req.ImageRef)

	sent := env.session.Calls[0].Arguments.Get(1).(*discordgo.MessageSend)
	require.Len(t, sent.Embeds, 1)
	assert.Equal(t, titlePending, sent.Embeds[0].Title)
	assert.Equal(t, "u1", embedField(sent.Embeds[0], fieldUID))
	assert.NotEmpty(t, sent.Components)
}

func TestHandleSubmissionBlacklisted(t *testing.T) {
	env := newTestEnv(t)
	msg := submissionMessage("u1", "src1", pngAttachment())

	env.blacklist.On("IsBlacklisted", mock.Anything, "u1").Return(true, nil)
	env.session.On("ChannelMessageDelete", testRequestChannel, "src1").Return(nil)

	require.NoError(t, env.manager.HandleSubmission(context.Background(), msg))

	_, ok := env.index.RemoveBySubmitter("u1")
	assert.False(t, ok, "blacklisted submitter must never reach the index")
	env.session.AssertCalled(t, "ChannelMessageDelete", testRequestChannel, "src1")
	env.session.AssertNotCalled(t, "ChannelMessageSendComplex", testLogChannel, mock.Anything)
}

func TestHandleSubmissionValidationFailures(t *testing.T) {
	cases := map[string]*discordgo.MessageAttachment{
		"no attachment": nil,
		"bad type":      {URL: "u", ContentType: "text/plain", Size: 10},
		"too large":     {URL: "u", ContentType: "image/png", Size: 4 << 20},
	}

	for name, att := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			msg := submissionMessage("u1", "src1", att)

			env.blacklist.On("IsBlacklisted", mock.Anything, "u1").Return(false, nil)
			env.session.On("ChannelMessageDelete", testRequestChannel, "src1").Return(nil)
			env.session.On("ChannelMessageSendComplex", testRequestChannel, mock.Anything).
				Return(&discordgo.Message{ID: "notice"}, nil)

			require.NoError(t, env.manager.HandleSubmission(context.Background(), msg))

			_, ok := env.index.RemoveBySubmitter("u1")
			assert.False(t, ok)
			env.session.AssertCalled(t, "ChannelMessageDelete", testRequestChannel, "src1")
		})
	}
}

func TestHandleSubmissionAuthorizedBypassesTypeCheck(t *testing.T) {
	env := newTestEnv(t)
	att := &discordgo.MessageAttachment{URL: "u", ContentType: "image/bmp", Size: 4 << 20}
	msg := submissionMessage("mod1", "src1", att, testModRole)

	env.blacklist.On("IsBlacklisted", mock.Anything, "mod1").Return(false, nil)
	env.session.On("ChannelMessageSendComplex", testLogChannel, mock.Anything).
		Return(&discordgo.Message{ID: "log1"}, nil)

	require.NoError(t, env.manager.HandleSubmission(context.Background(), msg))

	_, ok := env.index.RemoveBySubmitter("mod1")
	assert.True(t, ok)
}

func TestHandleSubmissionAuthorizedChatterIsLeftAlone(t *testing.T) {
	env := newTestEnv(t)
	msg := submissionMessage("mod1", "src1", nil, testModRole)

	env.blacklist.On("IsBlacklisted", mock.Anything, "mod1").Return(false, nil)

	require.NoError(t, env.manager.HandleSubmission(context.Background(), msg))

	env.session.AssertNotCalled(t, "ChannelMessageDelete", mock.Anything, mock.Anything)
	env.session.AssertNotCalled(t, "ChannelMessageSendComplex", mock.Anything, mock.Anything)
}

func TestHandleSubmissionSupersedesPriorRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "srcOld", "refOld")
	require.NoError(t, err)

	env.blacklist.On("IsBlacklisted", mock.Anything, "u1").Return(false, nil)
	env.session.On("ChannelMessage", testLogChannel, "log1").
		Return(logMessage("log1", titlePending, "u1", "srcOld", "refOld"), nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.session.On("ChannelMessageSendComplex", testLogChannel, mock.Anything).
		Return(&discordgo.Message{ID: "log2"}, nil)

	msg := submissionMessage("u1", "srcNew", pngAttachment())
	require.NoError(t, env.manager.HandleSubmission(context.Background(), msg))

	assert.Equal(t, []string{titleCancelled}, env.session.editTitles())

	req, ok := env.index.RemoveBySubmitter("u1")
	require.True(t, ok)
	assert.Equal(t, "log2", req.LogMessageID, "only the new request remains")
	_, ok = env.index.RemoveByLogMessage("log1")
	assert.False(t, ok)
}

// --- Approve ---

func TestApproveHappyPath(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "refOrig")
	require.NoError(t, err)

	msg := logMessage("log1", titlePending, "u1", "src1", "refOrig")
	ic := componentInteraction(customIDApprove, "mod1", msg, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.uploader.On("Upload", mock.Anything, "refOrig", "u1").Return("https://cdn/x/u1", nil)
	env.banners.On("UpsertBanner", mock.Anything, mock.MatchedBy(func(b *models.Banner) bool {
		return b.UID == "u1" && b.Img == "https://cdn/x/u1" && b.ApprovedBy == "mod1"
	})).Return(nil)
	env.session.On("ChannelMessageDelete", testRequestChannel, "src1").Return(nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))

	assert.Equal(t, []string{titleUploading, titleApproved}, env.session.editTitles())
	env.banners.AssertNumberOfCalls(t, "UpsertBanner", 1)
	env.session.AssertCalled(t, "ChannelMessageDelete", testRequestChannel, "src1")

	_, ok := env.index.RemoveBySubmitter("u1")
	assert.False(t, ok, "approved request must leave the index")
}

func TestApproveUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	msg := logMessage("log1", titlePending, "u1", "src1", "ref")
	ic := componentInteraction(customIDApprove, "rando", msg) // no mod role

	env.session.On("InteractionRespond", mock.Anything, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Type == discordgo.InteractionResponseChannelMessageWithSource &&
			r.Data.Flags == discordgo.MessageFlagsEphemeral
	})).Return(nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))

	env.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	env.banners.AssertNotCalled(t, "UpsertBanner", mock.Anything, mock.Anything)
	_, ok := env.index.RemoveBySubmitter("u1")
	assert.True(t, ok, "unauthorized approve must not change state")
}

func TestApproveUploadFailureRevertsToPending(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	msg := logMessage("log1", titlePending, "u1", "src1", "ref")
	ic := componentInteraction(customIDApprove, "mod1", msg, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.uploader.On("Upload", mock.Anything, "ref", "u1").Return("", errors.New("bucket down"))
	env.session.On("FollowupMessageCreate", mock.Anything, false, mock.Anything).
		Return(&discordgo.Message{}, nil)

	err = env.manager.HandleInteraction(context.Background(), ic)
	require.Error(t, err)

	assert.Equal(t, []string{titleUploading, titlePending}, env.session.editTitles())
	lastEdit := env.session.edits[len(env.session.edits)-1]
	require.NotNil(t, lastEdit.Components)
	assert.NotEmpty(t, *lastEdit.Components, "revert must restore the buttons")

	env.banners.AssertNotCalled(t, "UpsertBanner", mock.Anything, mock.Anything)
	env.session.AssertNotCalled(t, "ChannelMessageDelete", mock.Anything, mock.Anything)

	req, ok := env.index.RemoveBySubmitter("u1")
	require.True(t, ok, "failed approval must preserve the index entry")
	assert.Equal(t, "log1", req.LogMessageID)
}

func TestApprovePersistenceFailureRevertsToPending(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	msg := logMessage("log1", titlePending, "u1", "src1", "ref")
	ic := componentInteraction(customIDApprove, "mod1", msg, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.uploader.On("Upload", mock.Anything, "ref", "u1").Return("https://cdn/x/u1", nil)
	env.banners.On("UpsertBanner", mock.Anything, mock.Anything).Return(errors.New("mongo down"))
	env.session.On("FollowupMessageCreate", mock.Anything, false, mock.Anything).
		Return(&discordgo.Message{}, nil)

	require.Error(t, env.manager.HandleInteraction(context.Background(), ic))

	assert.Equal(t, []string{titleUploading, titlePending}, env.session.editTitles())
	_, ok := env.index.RemoveBySubmitter("u1")
	assert.True(t, ok)
}

func TestApproveRederivesAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	// Index is empty: the process restarted since the request was created.
	msg := logMessage("log1", titlePending, "u1", "src1", "https://cdn.example/a.png")
	ic := componentInteraction(customIDApprove, "mod1", msg, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessage", testLogChannel, "log1").Return(msg, nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.uploader.On("Upload", mock.Anything, "https://cdn.example/a.png", "u1").
		Return("https://cdn/x/u1", nil)
	env.banners.On("UpsertBanner", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageDelete", testRequestChannel, "src1").Return(nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))

	assert.Equal(t, []string{titleUploading, titleApproved}, env.session.editTitles())
	env.session.AssertCalled(t, "ChannelMessageDelete", testRequestChannel, "src1")
}

func TestApproveAlreadyFinalizedIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	// Index empty and the embed no longer shows the pending state: a
	// concurrent actor finalized this request first.
	msg := logMessage("log1", titleApproved, "u1", "src1", "ref")
	ic := componentInteraction(customIDApprove, "mod1", msg, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessage", testLogChannel, "log1").Return(msg, nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))

	env.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, env.session.edits)
}

func TestStalePendingSnapshotDoesNotDoubleFinalize(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	// Both moderators clicked while the message still showed the pending
	// state; the deny arrives after the approve fully finalized, carrying
	// a snapshot that predates it.
	stale := logMessage("log1", titlePending, "u1", "src1", "ref")
	approve := componentInteraction(customIDApprove, "modA", stale, testModRole)
	deny := componentInteraction(customIDDeny, "modB", stale, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.uploader.On("Upload", mock.Anything, "ref", "u1").Return("https://cdn/x/u1", nil)
	env.banners.On("UpsertBanner", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageDelete", testRequestChannel, "src1").Return(nil)
	env.session.On("ChannelMessage", testLogChannel, "log1").
		Return(logMessage("log1", titleApproved, "u1", "src1", "ref"), nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), approve))
	require.NoError(t, env.manager.HandleInteraction(context.Background(), deny))

	assert.Equal(t, []string{titleUploading, titleApproved}, env.session.editTitles(),
		"the losing deny must not edit the finalized message")
	env.banners.AssertNumberOfCalls(t, "UpsertBanner", 1)
}

func TestClaimRefusedWhileFinalizationInFlight(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	// The first claimant removed the entry and is mid-upload; the live
	// message still shows the pending state.
	_, ok := env.index.RemoveByLogMessage("log1")
	require.True(t, ok)

	stale := logMessage("log1", titlePending, "u1", "src1", "ref")
	ic := componentInteraction(customIDDeny, "modB", stale, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessage", testLogChannel, "log1").Return(stale, nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))
	assert.Empty(t, env.session.edits)
}

// --- Deny / Cancel ---

func TestDenyFinalizesRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	msg := logMessage("log1", titlePending, "u1", "src1", "ref")
	ic := componentInteraction(customIDDeny, "mod1", msg, testModRole)

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.session.On("ChannelMessageDelete", testRequestChannel, "src1").Return(nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))

	assert.Equal(t, []string{titleDenied}, env.session.editTitles())
	_, ok := env.index.RemoveBySubmitter("u1")
	assert.False(t, ok)
}

func TestCancelBySubmitter(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	msg := logMessage("log1", titlePending, "u1", "src1", "ref")
	ic := componentInteraction(customIDCancel, "u1", msg) // submitter, no role

	env.session.On("InteractionRespond", mock.Anything, mock.Anything).Return(nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)
	env.session.On("ChannelMessageDelete", testRequestChannel, "src1").Return(nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))

	assert.Equal(t, []string{titleCancelled}, env.session.editTitles())
	_, ok := env.index.RemoveBySubmitter("u1")
	assert.False(t, ok)
}

func TestCancelByNonSubmitterRefused(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	msg := logMessage("log1", titlePending, "u1", "src1", "ref")
	ic := componentInteraction(customIDCancel, "u2", msg)

	env.session.On("InteractionRespond", mock.Anything, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Type == discordgo.InteractionResponseChannelMessageWithSource
	})).Return(nil)

	require.NoError(t, env.manager.HandleInteraction(context.Background(), ic))

	assert.Empty(t, env.session.edits)
	_, ok := env.index.RemoveBySubmitter("u1")
	assert.True(t, ok, "foreign cancel must not change state")
}

// --- Source deleted ---

func TestSourceDeletedCancelsRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Insert("u1", "log1", "src1", "ref")
	require.NoError(t, err)

	env.session.On("ChannelMessage", testLogChannel, "log1").
		Return(logMessage("log1", titlePending, "u1", "src1", "ref"), nil)
	env.session.On("ChannelMessageEditComplex", mock.Anything).Return(&discordgo.Message{}, nil)

	require.NoError(t, env.manager.HandleSourceDeleted(context.Background(), "src1"))

	assert.Equal(t, []string{titleCancelled}, env.session.editTitles())
	// No deletion attempt: the source message is already gone.
	env.session.AssertNotCalled(t, "ChannelMessageDelete", mock.Anything, mock.Anything)
	_, ok := env.index.RemoveBySubmitter("u1")
	assert.False(t, ok)

	// A second delivery of the same event is a no-op.
	require.NoError(t, env.manager.HandleSourceDeleted(context.Background(), "src1"))
	assert.Len(t, env.session.edits, 1)
}

func TestSourceDeletedUnknownMessageIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.manager.HandleSourceDeleted(context.Background(), "unrelated"))
	assert.Empty(t, env.session.edits)
}

// --- Re-derivation helpers ---

func TestRederiveRequestParsesEmbed(t *testing.T) {
	msg := logMessage("log1", titlePending, "u1", "src1", "https://cdn.example/a.png")

	req, ok := rederiveRequest(msg)
	require.True(t, ok)
	assert.Equal(t, "u1", req.SubmitterID)
	assert.Equal(t, "log1", req.LogMessageID)
	assert.Equal(t, "src1", req.SourceMessageID)
	assert.Equal(t, "https://cdn.example/a.png", req.ImageRef)
}

func TestRederiveRequestRejectsFinalizedStates(t *testing.T) {
	for _, title := range []string{titleApproved, titleDenied, titleCancelled, titleUploading} {
		msg := logMessage("log1", title, "u1", "src1", "ref")
		_, ok := rederiveRequest(msg)
		assert.False(t, ok, "title %q must not re-derive", title)
	}
}

func TestFormatTypes(t *testing.T) {
	assert.Equal(t, "png, jpeg, gif", formatTypes([]string{"image/png", "image/jpeg", "image/gif"}))
	assert.Equal(t, "text/plain", formatTypes([]string{"text/plain"}))
}
