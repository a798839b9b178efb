package requests

import (
	"fmt"
	"net/url"
	"strings"

	"usrbg-bot/internal/pending"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

// Log message embed titles. The title is the state the moderators see;
// re-derivation after a restart keys off titlePending, so these are part
// of the persisted surface and must stay stable.
const (
	titlePending   = "Request Pending"
	titleUploading = "Uploading..."
	titleApproved  = "Request Approved"
	titleDenied    = "Request Denied"
	titleCancelled = "Request Cancelled"
)

// Button custom IDs.
const (
	customIDApprove = "Approve"
	customIDDeny    = "Deny"
	customIDCancel  = "Cancel"
)

// Embed field names. UID anchors the submitter identity on the log
// message itself, independent of the in-memory index.
const (
	fieldUser = "User"
	fieldUID  = "UID"
)

// requestButtons returns the Approve/Deny/Cancel action row.
func requestButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Approve", Style: discordgo.SuccessButton, CustomID: customIDApprove},
				discordgo.Button{Label: "Deny", Style: discordgo.DangerButton, CustomID: customIDDeny},
				discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: customIDCancel},
			},
		},
	}
}

// buildRequestEmbed builds the log message embed. sourceLink ties the log
// message back to the original submission and is the only place the source
// message ID survives a restart.
func buildRequestEmbed(title, username, uid, thumbnailURL, sourceLink string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: title,
		URL:   sourceLink,
		Fields: []*discordgo.MessageEmbedField{
			{Name: fieldUser, Value: username, Inline: true},
			{Name: fieldUID, Value: uid, Inline: true},
		},
	}
	if thumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbnailURL}
	}
	return embed
}

// messageLink builds the canonical link to a guild message.
func messageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// embedField returns the value of the named field, or "".
func embedField(embed *discordgo.MessageEmbed, name string) string {
	if embed == nil {
		return ""
	}
	for _, field := range embed.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}

// sourceMessageIDFromLink extracts the message ID from a message link,
// which is its last path segment.
func sourceMessageIDFromLink(link string) (string, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("failed to parse source message link: %w", err)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	id := segments[len(segments)-1]
	if id == "" {
		return "", fmt.Errorf("source message link %q has no message ID", link)
	}
	return id, nil
}

// rederiveRequest rebuilds a pending request from a log message embed.
// The index is volatile, so after a restart the embed is the only
// surviving anchor. Only messages still showing the pending state
// qualify; anything else was already finalized.
func rederiveRequest(msg *discordgo.Message) (*pending.Request, bool) {
	if msg == nil || len(msg.Embeds) == 0 {
		return nil, false
	}
	embed := msg.Embeds[0]
	if embed.Title != titlePending {
		return nil, false
	}

	uid := embedField(embed, fieldUID)
	if uid == "" {
		return nil, false
	}
	sourceID, err := sourceMessageIDFromLink(embed.URL)
	if err != nil {
		return nil, false
	}

	imageRef := ""
	if embed.Thumbnail != nil {
		imageRef = embed.Thumbnail.URL
	}

	return &pending.Request{
		ID:              uuid.NewString(),
		SubmitterID:     uid,
		LogMessageID:    msg.ID,
		SourceMessageID: sourceID,
		ImageRef:        imageRef,
	}, true
}
