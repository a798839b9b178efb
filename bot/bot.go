package bot

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"usrbg-bot/internal/handlers"
	"usrbg-bot/internal/requests"

	"github.com/bwmarrin/discordgo"
	"github.com/getsentry/sentry-go"
	"go.uber.org/ratelimit"
)

// Bot wraps the discordgo session, registers the gateway event handlers
// and routes each event to the request manager or the command handler
// based on the channel it arrived in.
type Bot struct {
	session          *discordgo.Session
	manager          *requests.Manager
	commands         *handlers.CommandHandler
	requestChannelID string
	commandChannelID string
	debug            bool
	ratelimiter      ratelimit.Limiter
}

// BotDeps holds the dependencies required by the Bot.
type BotDeps struct {
	Session          *discordgo.Session
	Manager          *requests.Manager
	Commands         *handlers.CommandHandler
	RequestChannelID string
	CommandChannelID string
	Debug            bool
}

// New creates a new Bot instance from its dependencies.
// Returns the new Bot instance or an error if dependencies are missing.
func New(deps BotDeps) (*Bot, error) {
	if deps.Session == nil {
		return nil, fmt.Errorf("discord session cannot be nil")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("request manager cannot be nil")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command handler cannot be nil")
	}
	if deps.RequestChannelID == "" {
		return nil, fmt.Errorf("request channel ID cannot be empty")
	}
	if deps.CommandChannelID == "" {
		return nil, fmt.Errorf("command channel ID cannot be empty")
	}

	return &Bot{
		session:          deps.Session,
		manager:          deps.Manager,
		commands:         deps.Commands,
		requestChannelID: deps.RequestChannelID,
		commandChannelID: deps.CommandChannelID,
		debug:            deps.Debug,
		ratelimiter:      ratelimit.New(20),
	}, nil
}

// Start registers the event handlers and opens the gateway connection.
func (b *Bot) Start() error {
	b.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	log.Println("Closing gateway connection...")
	return b.session.Close()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	log.Printf("Logged in as %s#%s", r.User.Username, r.User.Discriminator)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	switch m.ChannelID {
	case b.requestChannelID:
		b.dispatch(fmt.Sprintf("[Submission User:%s Msg:%s]", m.Author.ID, m.ID), func(ctx context.Context) error {
			return b.manager.HandleSubmission(ctx, m.Message)
		})
	case b.commandChannelID:
		b.dispatch(fmt.Sprintf("[Command User:%s Msg:%s]", m.Author.ID, m.ID), func(ctx context.Context) error {
			return b.commands.HandleCommand(ctx, m.Message)
		})
	default:
		if b.debug {
			log.Printf("Ignoring message %s in unwatched channel %s", m.ID, m.ChannelID)
		}
	}
}

func (b *Bot) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.ChannelID != b.requestChannelID {
		return
	}
	b.dispatch(fmt.Sprintf("[SourceDeleted Msg:%s]", m.ID), func(ctx context.Context) error {
		return b.manager.HandleSourceDeleted(ctx, m.ID)
	})
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionMessageComponent {
		return
	}
	b.dispatch(fmt.Sprintf("[Interaction ID:%s]", ic.ID), func(ctx context.Context) error {
		return b.manager.HandleInteraction(ctx, ic)
	})
}

// dispatch runs an event handler with the shared rate limit, a processing
// timeout and panic recovery.
func (b *Bot) dispatch(logPrefix string, fn func(ctx context.Context) error) {
	b.ratelimiter.Take()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC recovered in %s: %v\n%s", logPrefix, r, debug.Stack())
			sentry.CurrentHub().Recover(r)
			sentry.Flush(time.Second * 2)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil {
		log.Printf("%s Handler error: %v", logPrefix, err)
		sentry.CaptureException(fmt.Errorf("%s handler error: %w", logPrefix, err))
	} else if b.debug {
		log.Printf("%s Handler finished successfully", logPrefix)
	}
}
