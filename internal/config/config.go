package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Signaling
	JWTSecret       string
	MaxParticipants int

	// Conversation tuning
	SilenceTimeout time.Duration // silence before a gentle re-prompt
	ResponseDelay  time.Duration // natural pacing before the agent replies
	MaxExchanges   int           // question/answer pairs before completion
	JoinWaitBound  time.Duration // how long the agent waits for humans
	RoomGrace      time.Duration // empty-room destruction delay

	// Collaborators
	GeminiAPIKey string
	GeminiModel  string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/leadline.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret:       os.Getenv("JWT_SECRET"),
		MaxParticipants: getEnvInt("MAX_PARTICIPANTS", 10),

		SilenceTimeout: getEnvDuration("SILENCE_TIMEOUT", 5*time.Second),
		ResponseDelay:  getEnvDuration("RESPONSE_DELAY", 2*time.Second),
		MaxExchanges:   getEnvInt("MAX_EXCHANGES", 7),
		JoinWaitBound:  getEnvDuration("JOIN_WAIT_BOUND", 10*time.Minute),
		RoomGrace:      getEnvDuration("ROOM_GRACE_PERIOD", 5*time.Minute),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
	}
	cfg.FromEmail = getEnv("FROM_EMAIL", cfg.SMTPUsername)

	// In production, require the database and the signing secret
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
