package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	AppEnv    string
	Debug     bool
	Version   string
	SentryDSN string

	DiscordToken     string
	RequestChannelID string
	LogChannelID     string
	CommandChannelID string
	AuthRoleID       string

	AllowedImageTypes []string
	MaxImageSize      int64

	MongoDBURI      string
	MongoDBDatabase string

	StorageEndpoint   string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageUseSSL     bool
	StorageBucket     string
	StoragePathPrefix string
	StoragePublicURL  string
}

// defaultMaxImageSize caps submissions at 10 MiB unless overridden.
const defaultMaxImageSize = 10 << 20

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present but prioritizes
// actual environment variables set in the system (e.g., by Docker).
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (useful for development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	debugStr := getEnv("DEBUG", "false")
	debug, err := strconv.ParseBool(debugStr)
	if err != nil {
		return nil, fmt.Errorf("invalid DEBUG: %q", debugStr)
	}

	maxSize := int64(defaultMaxImageSize)
	if sizeStr := getEnv("MAX_IMAGE_SIZE_BYTES", ""); sizeStr != "" {
		parsed, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid MAX_IMAGE_SIZE_BYTES: %q", sizeStr)
		}
		maxSize = parsed
	}

	useSSLStr := getEnv("STORAGE_USE_SSL", "true")
	useSSL, err := strconv.ParseBool(useSSLStr)
	if err != nil {
		return nil, fmt.Errorf("invalid STORAGE_USE_SSL: %q", useSSLStr)
	}

	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Debug:     debug,
		Version:   getEnv("VERSION", "dev"),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		DiscordToken:     getEnv("DISCORD_TOKEN", ""),
		RequestChannelID: getEnv("REQUEST_CHANNEL_ID", ""),
		LogChannelID:     getEnv("LOG_CHANNEL_ID", ""),
		CommandChannelID: getEnv("COMMAND_CHANNEL_ID", ""),
		AuthRoleID:       getEnv("AUTH_ROLE_ID", ""),

		AllowedImageTypes: splitList(getEnv("ALLOWED_IMAGE_TYPES", "image/png,image/jpeg,image/gif,image/webp")),
		MaxImageSize:      maxSize,

		MongoDBURI:      getEnv("MONGODB_URI", ""),
		MongoDBDatabase: getEnv("MONGODB_DATABASE", ""),

		StorageEndpoint:   getEnv("STORAGE_ENDPOINT", ""),
		StorageAccessKey:  getEnv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey:  getEnv("STORAGE_SECRET_KEY", ""),
		StorageUseSSL:     useSSL,
		StorageBucket:     getEnv("STORAGE_BUCKET", ""),
		StoragePathPrefix: getEnv("STORAGE_PATH_PREFIX", "banners/"),
		StoragePublicURL:  getEnv("STORAGE_PUBLIC_URL", ""),
	}

	// Basic validation for essential variables
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.RequestChannelID == "" {
		return nil, fmt.Errorf("REQUEST_CHANNEL_ID is required")
	}
	if cfg.LogChannelID == "" {
		return nil, fmt.Errorf("LOG_CHANNEL_ID is required")
	}
	if cfg.CommandChannelID == "" {
		return nil, fmt.Errorf("COMMAND_CHANNEL_ID is required")
	}
	if cfg.AuthRoleID == "" {
		return nil, fmt.Errorf("AUTH_ROLE_ID is required")
	}
	if len(cfg.AllowedImageTypes) == 0 {
		return nil, fmt.Errorf("ALLOWED_IMAGE_TYPES must list at least one MIME type")
	}
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}
	if cfg.MongoDBDatabase == "" {
		return nil, fmt.Errorf("MONGODB_DATABASE is required")
	}
	if cfg.StorageEndpoint == "" {
		return nil, fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	if cfg.StorageAccessKey == "" || cfg.StorageSecretKey == "" {
		return nil, fmt.Errorf("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required")
	}
	if cfg.StorageBucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET is required")
	}
	if cfg.StoragePublicURL == "" {
		return nil, fmt.Errorf("STORAGE_PUBLIC_URL is required")
	}
	if cfg.SentryDSN == "" {
		log.Println("Warning: SENTRY_DSN is not set. Error tracking disabled.")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated list, trimming blanks.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
