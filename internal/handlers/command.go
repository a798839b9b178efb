package handlers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"usrbg-bot/internal/database"
	"usrbg-bot/internal/database/models"
	"usrbg-bot/internal/locales"
	"usrbg-bot/pkg/discordapi"

	"github.com/bwmarrin/discordgo"
)

const commandPrefix = "~"

// AuthChecker decides whether a member may run moderator commands.
type AuthChecker interface {
	IsAuthorized(member *discordgo.Member) bool
}

// ObjectDeleter removes a stored banner image.
type ObjectDeleter interface {
	Delete(ctx context.Context, uid string) error
}

// CommandHandler handles the moderator text commands in the command
// channel: ~ban, ~unban and ~remove. These are direct single-record
// database calls with no pending-request coupling.
type CommandHandler struct {
	session   discordapi.Session
	banners   database.BannerRepository
	blacklist database.BlacklistRepository
	checker   AuthChecker
	storage   ObjectDeleter
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(session discordapi.Session, banners database.BannerRepository, blacklist database.BlacklistRepository, checker AuthChecker, storage ObjectDeleter) (*CommandHandler, error) {
	if session == nil {
		return nil, fmt.Errorf("discord session cannot be nil")
	}
	if banners == nil {
		return nil, fmt.Errorf("banner repository cannot be nil")
	}
	if blacklist == nil {
		return nil, fmt.Errorf("blacklist repository cannot be nil")
	}
	if checker == nil {
		return nil, fmt.Errorf("auth checker cannot be nil")
	}
	if storage == nil {
		return nil, fmt.Errorf("object deleter cannot be nil")
	}
	return &CommandHandler{
		session:   session,
		banners:   banners,
		blacklist: blacklist,
		checker:   checker,
		storage:   storage,
	}, nil
}

// HandleCommand parses and executes a command message. Moderators with an
// argument act on arbitrary users; everyone else only on themselves.
func (h *CommandHandler) HandleCommand(ctx context.Context, msg *discordgo.Message) error {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], commandPrefix) {
		return nil
	}
	command := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	if h.checker.IsAuthorized(msg.Member) && arg != "" {
		return h.handleModeratorCommand(ctx, msg, command, arg)
	}
	return h.handleUserCommand(ctx, msg, command)
}

func (h *CommandHandler) handleModeratorCommand(ctx context.Context, msg *discordgo.Message, command, targetUID string) error {
	if !validSnowflake(targetUID) {
		return nil
	}

	switch command {
	case "~remove":
		return h.removeBanner(ctx, msg, targetUID)
	case "~ban":
		entry := &models.BanEntry{UID: targetUID, BannedBy: msg.Author.ID}
		if err := h.blacklist.Ban(ctx, entry); err != nil {
			log.Printf("[Cmd:ban User:%s] %v", msg.Author.ID, err)
			return h.reply(msg, "MsgBanFailed")
		}
		return h.reply(msg, "MsgBanSuccess")
	case "~unban":
		if err := h.blacklist.Unban(ctx, targetUID); err != nil {
			log.Printf("[Cmd:unban User:%s] %v", msg.Author.ID, err)
			return h.reply(msg, "MsgUnbanFailed")
		}
		return h.reply(msg, "MsgUnbanSuccess")
	}
	return nil
}

func (h *CommandHandler) handleUserCommand(ctx context.Context, msg *discordgo.Message, command string) error {
	switch command {
	case "~remove":
		return h.removeBanner(ctx, msg, msg.Author.ID)
	}
	return nil
}

// removeBanner deletes the database record and, best effort, the stored
// image behind it.
func (h *CommandHandler) removeBanner(ctx context.Context, msg *discordgo.Message, uid string) error {
	if err := h.banners.DeleteBanner(ctx, uid); err != nil {
		log.Printf("[Cmd:remove User:%s] %v", msg.Author.ID, err)
		return h.reply(msg, "MsgRemoveFailed")
	}
	if err := h.storage.Delete(ctx, uid); err != nil {
		log.Printf("[Cmd:remove User:%s] Failed to delete stored image for %s: %v", msg.Author.ID, uid, err)
	}
	return h.reply(msg, "MsgRemoveSuccess")
}

func (h *CommandHandler) reply(msg *discordgo.Message, msgID string) error {
	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())
	text := locales.GetMessage(localizer, msgID, nil, nil)
	if _, err := h.session.ChannelMessageSendReply(msg.ChannelID, text, msg.Reference()); err != nil {
		return fmt.Errorf("failed to reply to command message %s: %w", msg.ID, err)
	}
	return nil
}

// validSnowflake reports whether s looks like a Discord ID.
func validSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
