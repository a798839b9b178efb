package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"usrbg-bot/internal/auth"
	"usrbg-bot/internal/config"
	"usrbg-bot/internal/database"
	"usrbg-bot/internal/handlers"
	"usrbg-bot/internal/locales"
	"usrbg-bot/internal/pending"
	"usrbg-bot/internal/requests"
	"usrbg-bot/internal/storage"

	appBot "usrbg-bot/bot"

	"github.com/bwmarrin/discordgo"
	sentry "github.com/getsentry/sentry-go"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize localization bundle
	locales.Init("en")

	// Initialize Sentry (if DSN is provided)
	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.AppEnv,
		Release:          cfg.Version,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	// Connect to MongoDB
	client, db, err := database.ConnectDB(cfg)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}
	defer func() {
		if err = client.Disconnect(context.Background()); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
			sentry.CaptureException(err)
		} else {
			log.Println("Disconnected from MongoDB.")
		}
	}()

	// Create repository instances
	bannerRepo := database.NewMongoBannerRepository(db)
	blacklistRepo := database.NewMongoBlacklistRepository(db)

	// Creating context for application lifecycle
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Bot Initialization ---
	// 1. Create the raw discordgo session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create discord session: %v", err)
	}

	// 2. Create the object storage client
	bucket, err := storage.NewBucketStorage(cfg)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create bucket storage: %v", err)
	}

	// 3. Create the role checker
	roleChecker, err := auth.NewRoleChecker(cfg.AuthRoleID)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create role checker: %v", err)
	}

	// 4. Create the request lifecycle manager
	requestManager, err := requests.NewManager(requests.ManagerDeps{
		Session:           session,
		Index:             pending.NewIndex(),
		Banners:           bannerRepo,
		Blacklist:         blacklistRepo,
		Checker:           roleChecker,
		Uploader:          bucket,
		RequestChannelID:  cfg.RequestChannelID,
		LogChannelID:      cfg.LogChannelID,
		AllowedImageTypes: cfg.AllowedImageTypes,
		MaxImageSize:      cfg.MaxImageSize,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	// 5. Create the command handler
	commandHandler, err := handlers.NewCommandHandler(session, bannerRepo, blacklistRepo, roleChecker, bucket)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	// 6. Create the bot wrapper
	bot, err := appBot.New(appBot.BotDeps{
		Session:          session,
		Manager:          requestManager,
		Commands:         commandHandler,
		RequestChannelID: cfg.RequestChannelID,
		CommandChannelID: cfg.CommandChannelID,
		Debug:            cfg.Debug,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	// Open the gateway connection and start handling events
	if err := bot.Start(); err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	// Wait for context cancellation (e.g., SIGINT, SIGTERM)
	<-ctx.Done()

	log.Println("Shutting down bot...")
	if err := bot.Stop(); err != nil {
		log.Printf("Error closing gateway connection: %v", err)
		sentry.CaptureException(err)
	}

	log.Println("Bot shutdown complete.")
}
