package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds application configuration
type Config struct {
	// Server settings
	ListenAddr string

	// Database
	DBPath string

	// Security
	AppSecret       string
	DBEncryptionKey string

	// Attachment storage
	AttachmentDir string

	// Sync behaviour
	SyncInterval   time.Duration
	FetchLimit     int
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration

	// Session
	SessionTimeoutHours int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Required security secrets - fail startup if not set or too weak
	appSecret, err := getEnvRequiredMinLength("APP_SECRET", 32)
	if err != nil {
		return nil, fmt.Errorf("security configuration error: %w", err)
	}

	dbEncryptionKey, err := getEnvRequiredMinLength("DB_ENCRYPTION_KEY", 32)
	if err != nil {
		return nil, fmt.Errorf("security configuration error: %w", err)
	}

	cfg := &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		DBPath:              getEnv("DB_PATH", "./data/mailsync.db"),
		AppSecret:           appSecret,
		DBEncryptionKey:     dbEncryptionKey,
		AttachmentDir:       getEnv("ATTACHMENT_DIR", "./data/attachments"),
		SyncInterval:        getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		FetchLimit:          getEnvInt("FETCH_LIMIT", 50),
		ConnectTimeout:      getEnvDuration("CONNECT_TIMEOUT", 30*time.Second),
		FetchTimeout:        getEnvDuration("FETCH_TIMEOUT", 2*time.Minute),
		SessionTimeoutHours: getEnvInt("SESSION_TIMEOUT_HOURS", 8),
	}

	log.Info().Msg("Configuration loaded successfully")
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequiredMinLength returns an error if the environment variable is not set
// or if its value is shorter than the minimum required length
func getEnvRequiredMinLength(key string, minLength int) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s environment variable is required but not set", key)
	}
	if len(value) < minLength {
		return "", fmt.Errorf("%s must be at least %d characters (got %d)", key, minLength, len(value))
	}
	return value, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer in environment, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment, using default")
	}
	return defaultValue
}
