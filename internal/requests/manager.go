package requests

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"usrbg-bot/internal/database"
	"usrbg-bot/internal/database/models"
	"usrbg-bot/internal/locales"
	"usrbg-bot/internal/pending"
	"usrbg-bot/pkg/discordapi"

	"github.com/bwmarrin/discordgo"
)

// Uploader persists an approved image and returns its hosted reference.
type Uploader interface {
	Upload(ctx context.Context, imageURL, uid string) (string, error)
}

// AuthChecker decides whether a member may moderate requests.
type AuthChecker interface {
	IsAuthorized(member *discordgo.Member) bool
}

// Manager owns the pending-request lifecycle. It is the only writer to the
// pending index; every transition goes through one of its Handle methods.
type Manager struct {
	session   discordapi.Session
	index     *pending.Index
	banners   database.BannerRepository
	blacklist database.BlacklistRepository
	checker   AuthChecker
	uploader  Uploader

	requestChannelID  string
	logChannelID      string
	allowedImageTypes []string
	maxImageSize      int64
}

// ManagerDeps holds the dependencies required by the Manager.
type ManagerDeps struct {
	Session   discordapi.Session
	Index     *pending.Index
	Banners   database.BannerRepository
	Blacklist database.BlacklistRepository
	Checker   AuthChecker
	Uploader  Uploader

	RequestChannelID  string
	LogChannelID      string
	AllowedImageTypes []string
	MaxImageSize      int64
}

// NewManager creates a new request lifecycle manager.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Session == nil {
		return nil, fmt.Errorf("discord session cannot be nil")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("pending index cannot be nil")
	}
	if deps.Banners == nil {
		return nil, fmt.Errorf("banner repository cannot be nil")
	}
	if deps.Blacklist == nil {
		return nil, fmt.Errorf("blacklist repository cannot be nil")
	}
	if deps.Checker == nil {
		return nil, fmt.Errorf("auth checker cannot be nil")
	}
	if deps.Uploader == nil {
		return nil, fmt.Errorf("uploader cannot be nil")
	}
	if deps.RequestChannelID == "" || deps.LogChannelID == "" {
		return nil, fmt.Errorf("request and log channel IDs cannot be empty")
	}
	if len(deps.AllowedImageTypes) == 0 {
		return nil, fmt.Errorf("allowed image types cannot be empty")
	}

	return &Manager{
		session:           deps.Session,
		index:             deps.Index,
		banners:           deps.Banners,
		blacklist:         deps.Blacklist,
		checker:           deps.Checker,
		uploader:          deps.Uploader,
		requestChannelID:  deps.RequestChannelID,
		logChannelID:      deps.LogChannelID,
		allowedImageTypes: deps.AllowedImageTypes,
		maxImageSize:      deps.MaxImageSize,
	}, nil
}

// HandleSubmission processes a new message in the request channel. A
// qualifying submission supersedes any prior pending request from the same
// user, posts a log message with controls, and registers the request.
func (m *Manager) HandleSubmission(ctx context.Context, msg *discordgo.Message) error {
	banned, err := m.blacklist.IsBlacklisted(ctx, msg.Author.ID)
	if err != nil {
		return fmt.Errorf("blacklist lookup failed for user %s: %w", msg.Author.ID, err)
	}
	if banned {
		if err := m.session.ChannelMessageDelete(m.requestChannelID, msg.ID); err != nil {
			return fmt.Errorf("failed to delete blacklisted submission %s: %w", msg.ID, err)
		}
		return nil
	}

	authorized := m.checker.IsAuthorized(msg.Member)
	att, rejectMsgID := m.validateSubmission(msg, authorized)
	if att == nil {
		if authorized {
			// Moderators may talk in the request channel.
			return nil
		}
		if err := m.session.ChannelMessageDelete(m.requestChannelID, msg.ID); err != nil {
			log.Printf("[Submit User:%s] Failed to delete invalid submission %s: %v", msg.Author.ID, msg.ID, err)
		}
		m.reportRejection(msg.Author.ID, rejectMsgID)
		return nil
	}

	// Supersede any existing pending request before creating the new one,
	// so the index never holds two entries for one submitter.
	if prev, ok := m.index.RemoveBySubmitter(msg.Author.ID); ok {
		if err := m.editLogMessageByID(prev.LogMessageID, titleCancelled); err != nil {
			// The claim on the old log message is kept: it still shows the
			// pending state but no longer represents a live request.
			log.Printf("[Submit User:%s] Failed to cancel superseded request %s: %v", msg.Author.ID, prev.LogMessageID, err)
		} else {
			m.index.Finish(prev.LogMessageID)
		}
	}

	logMsg, err := m.postLogMessage(msg, att)
	if err != nil {
		return fmt.Errorf("failed to create request log message for user %s: %w", msg.Author.ID, err)
	}

	if _, err := m.index.Insert(msg.Author.ID, logMsg.ID, msg.ID, att.URL); err != nil {
		if errors.Is(err, pending.ErrDuplicateSubmitter) {
			// A concurrent submission won the slot; retire our log message.
			_ = m.session.ChannelMessageDelete(m.logChannelID, logMsg.ID)
			return nil
		}
		return fmt.Errorf("failed to register pending request for user %s: %w", msg.Author.ID, err)
	}
	return nil
}

// validateSubmission checks the message for a qualifying attachment.
// Authorized members bypass the type and size restrictions. On rejection
// it returns the locale message ID naming the violated constraint.
func (m *Manager) validateSubmission(msg *discordgo.Message, authorized bool) (*discordgo.MessageAttachment, string) {
	if len(msg.Attachments) == 0 {
		return nil, "MsgSubmissionRejectedNoImage"
	}
	att := msg.Attachments[0]
	if authorized {
		return att, ""
	}
	if !slices.Contains(m.allowedImageTypes, att.ContentType) {
		return nil, "MsgSubmissionRejectedType"
	}
	if int64(att.Size) > m.maxImageSize {
		return nil, "MsgSubmissionRejectedSize"
	}
	return att, ""
}

// reportRejection tells the submitter why their message was removed. The
// source message is already gone, so this is a plain channel message.
func (m *Manager) reportRejection(userID, msgID string) {
	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())
	text := locales.GetMessage(localizer, msgID, map[string]interface{}{
		"Types": formatTypes(m.allowedImageTypes),
	}, nil)
	_, err := m.session.ChannelMessageSendComplex(m.requestChannelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s> %s", userID, text),
	})
	if err != nil {
		log.Printf("[Submit User:%s] Failed to report rejection: %v", userID, err)
	}
}

// postLogMessage sends the moderator-facing log message with controls.
func (m *Manager) postLogMessage(msg *discordgo.Message, att *discordgo.MessageAttachment) (*discordgo.Message, error) {
	embed := buildRequestEmbed(
		titlePending,
		msg.Author.Username,
		msg.Author.ID,
		att.URL,
		messageLink(msg.GuildID, msg.ChannelID, msg.ID),
	)
	return m.session.ChannelMessageSendComplex(m.logChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: requestButtons(),
	})
}

// HandleSourceDeleted reconciles an externally deleted source message: the
// matching request, if any, is cancelled. The source needs no deletion,
// it is already gone.
func (m *Manager) HandleSourceDeleted(ctx context.Context, messageID string) error {
	req, ok := m.index.RemoveBySource(messageID)
	if !ok {
		return nil
	}
	if err := m.editLogMessageByID(req.LogMessageID, titleCancelled); err != nil {
		return fmt.Errorf("failed to cancel request %s after source deletion: %w", req.LogMessageID, err)
	}
	m.index.Finish(req.LogMessageID)
	return nil
}

// HandleInteraction routes a button press on a log message.
func (m *Manager) HandleInteraction(ctx context.Context, ic *discordgo.InteractionCreate) error {
	if ic.Type != discordgo.InteractionMessageComponent {
		return nil
	}
	switch ic.MessageComponentData().CustomID {
	case customIDApprove:
		return m.handleApprove(ctx, ic)
	case customIDDeny:
		return m.handleDeny(ctx, ic)
	case customIDCancel:
		return m.handleCancel(ctx, ic)
	default:
		return fmt.Errorf("unknown component ID %q on message %s", ic.MessageComponentData().CustomID, ic.Message.ID)
	}
}

// handleApprove drives the full approval sequence: claim, interim edit,
// upload, database upsert, terminal edit, source deletion. Any failure
// restores the claim and reverts the log message so the moderator can
// retry by clicking Approve again.
func (m *Manager) handleApprove(ctx context.Context, ic *discordgo.InteractionCreate) error {
	if !m.checker.IsAuthorized(ic.Member) {
		return m.replyEphemeral(ic, "MsgNotAuthorized")
	}
	if err := m.acknowledge(ic); err != nil {
		return fmt.Errorf("failed to acknowledge approve interaction: %w", err)
	}

	req, ok := m.claim(ic.Message)
	if !ok {
		// Raced away by a concurrent finalization. Not an error.
		return nil
	}

	sourceLink := messageLink(ic.GuildID, m.requestChannelID, req.SourceMessageID)
	if err := m.editRequest(ic.Message, titleUploading, req.ImageRef, sourceLink, false); err != nil {
		m.restore(req)
		return fmt.Errorf("failed to show uploading state on %s: %w", ic.Message.ID, err)
	}

	hosted, err := m.uploader.Upload(ctx, req.ImageRef, req.SubmitterID)
	if err == nil {
		banner := &models.Banner{
			UID:        req.SubmitterID,
			Img:        hosted,
			ApprovedBy: interactionUserID(ic),
		}
		err = m.banners.UpsertBanner(ctx, banner)
	}
	if err == nil {
		err = m.editRequest(ic.Message, titleApproved, hosted, "", false)
	}
	if err != nil {
		// Recover the UI instead of leaving a dangling "Uploading..."
		// state with no owning index entry.
		m.restore(req)
		if revertErr := m.editRequest(ic.Message, titlePending, req.ImageRef, sourceLink, true); revertErr != nil {
			log.Printf("[Approve Msg:%s] Failed to revert log message to pending: %v", ic.Message.ID, revertErr)
		}
		m.followupEphemeral(ic, "MsgApproveFailed")
		return fmt.Errorf("approval failed for user %s: %w", req.SubmitterID, err)
	}
	m.index.Finish(req.LogMessageID)

	if err := m.session.ChannelMessageDelete(m.requestChannelID, req.SourceMessageID); err != nil {
		// The request is finalized; a lingering source message is only
		// cosmetic.
		log.Printf("[Approve Msg:%s] Failed to delete source message %s: %v", ic.Message.ID, req.SourceMessageID, err)
	}
	return nil
}

// handleDeny finalizes a request as denied.
func (m *Manager) handleDeny(ctx context.Context, ic *discordgo.InteractionCreate) error {
	if !m.checker.IsAuthorized(ic.Member) {
		return m.replyEphemeral(ic, "MsgNotAuthorized")
	}
	if err := m.acknowledge(ic); err != nil {
		return fmt.Errorf("failed to acknowledge deny interaction: %w", err)
	}

	req, ok := m.claim(ic.Message)
	if !ok {
		return nil
	}

	if err := m.editRequest(ic.Message, titleDenied, "", "", false); err != nil {
		m.restore(req)
		return fmt.Errorf("failed to mark request %s denied: %w", ic.Message.ID, err)
	}
	m.index.Finish(req.LogMessageID)
	if err := m.session.ChannelMessageDelete(m.requestChannelID, req.SourceMessageID); err != nil {
		log.Printf("[Deny Msg:%s] Failed to delete source message %s: %v", ic.Message.ID, req.SourceMessageID, err)
	}
	return nil
}

// handleCancel lets the original submitter withdraw their own request.
// Cancellation is owner-gated, not role-gated.
func (m *Manager) handleCancel(ctx context.Context, ic *discordgo.InteractionCreate) error {
	var submitterID string
	if len(ic.Message.Embeds) > 0 {
		submitterID = embedField(ic.Message.Embeds[0], fieldUID)
	}
	if submitterID == "" {
		return fmt.Errorf("log message %s carries no submitter UID", ic.Message.ID)
	}
	if interactionUserID(ic) != submitterID {
		return m.replyEphemeral(ic, "MsgCancelNotOwner")
	}
	if err := m.acknowledge(ic); err != nil {
		return fmt.Errorf("failed to acknowledge cancel interaction: %w", err)
	}

	req, ok := m.claim(ic.Message)
	if !ok {
		return nil
	}

	if err := m.editRequest(ic.Message, titleCancelled, "", "", false); err != nil {
		m.restore(req)
		return fmt.Errorf("failed to mark request %s cancelled: %w", ic.Message.ID, err)
	}
	m.index.Finish(req.LogMessageID)
	if err := m.session.ChannelMessageDelete(m.requestChannelID, req.SourceMessageID); err != nil {
		log.Printf("[Cancel Msg:%s] Failed to delete source message %s: %v", ic.Message.ID, req.SourceMessageID, err)
	}
	return nil
}

// claim takes exclusive ownership of the log message's request. When the
// index misses (process restarted since the request was created), the
// request is re-derived from the embed, provided it still shows the
// pending state.
//
// The interaction message is a snapshot from click time; a rival
// finalization may have landed since. Only the live log message decides
// between the restart case and "already finalized", and the orphan claim
// in the index keeps a second task from adopting the same message while
// a finalization is in flight.
func (m *Manager) claim(msg *discordgo.Message) (*pending.Request, bool) {
	if req, ok := m.index.RemoveByLogMessage(msg.ID); ok {
		return req, true
	}
	live, err := m.session.ChannelMessage(m.logChannelID, msg.ID)
	if err != nil {
		log.Printf("[Claim Msg:%s] Failed to fetch live log message: %v", msg.ID, err)
		return nil, false
	}
	req, ok := rederiveRequest(live)
	if !ok {
		return nil, false
	}
	if !m.index.ClaimOrphan(msg.ID) {
		return nil, false
	}
	return req, true
}

// restore puts a claimed request back after a failed finalization. Losing
// the slot to a newer request from the same submitter is expected.
func (m *Manager) restore(req *pending.Request) {
	if err := m.index.Restore(req); err != nil {
		log.Printf("[Restore User:%s] Entry not restored (superseded in flight): %v", req.SubmitterID, err)
	}
}

// editRequest rewrites the log message embed in place, preserving its
// fields. Thumbnail and link are dropped unless provided.
func (m *Manager) editRequest(msg *discordgo.Message, title, thumbnail, link string, keepComponents bool) error {
	if len(msg.Embeds) == 0 {
		return fmt.Errorf("log message %s has no embed", msg.ID)
	}
	embed := &discordgo.MessageEmbed{
		Title:  title,
		Fields: msg.Embeds[0].Fields,
	}
	if thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbnail}
	}
	if link != "" {
		embed.URL = link
	}

	components := []discordgo.MessageComponent{}
	if keepComponents {
		components = requestButtons()
	}

	_, err := m.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    m.logChannelID,
		ID:         msg.ID,
		Embeds:     &[]*discordgo.MessageEmbed{embed},
		Components: &components,
	})
	return err
}

// editLogMessageByID fetches the log message and rewrites its state. Used
// on paths that only know the message ID (supersede, source deletion).
func (m *Manager) editLogMessageByID(logMessageID, title string) error {
	msg, err := m.session.ChannelMessage(m.logChannelID, logMessageID)
	if err != nil {
		return fmt.Errorf("failed to fetch log message %s: %w", logMessageID, err)
	}
	return m.editRequest(msg, title, "", "", false)
}

// acknowledge answers the interaction without visible content; the log
// message edits carry the state.
func (m *Manager) acknowledge(ic *discordgo.InteractionCreate) error {
	return m.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

// replyEphemeral answers the interaction with a message only the actor sees.
func (m *Manager) replyEphemeral(ic *discordgo.InteractionCreate, msgID string) error {
	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())
	return m.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: locales.GetMessage(localizer, msgID, nil, nil),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// followupEphemeral sends an ephemeral follow-up after the interaction was
// already acknowledged.
func (m *Manager) followupEphemeral(ic *discordgo.InteractionCreate, msgID string) {
	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())
	_, err := m.session.FollowupMessageCreate(ic.Interaction, false, &discordgo.WebhookParams{
		Content: locales.GetMessage(localizer, msgID, nil, nil),
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		log.Printf("[Followup Msg:%s] Failed to send ephemeral follow-up: %v", ic.Message.ID, err)
	}
}

// interactionUserID returns the acting user's ID for guild or DM
// interactions.
func interactionUserID(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}

// formatTypes renders the MIME allow-list for user-facing messages.
func formatTypes(types []string) string {
	short := make([]string, 0, len(types))
	for _, t := range types {
		short = append(short, strings.TrimPrefix(t, "image/"))
	}
	return strings.Join(short, ", ")
}
