package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Issuer claim for access tokens (default: gatekeeper)

	DatabaseFile   string // Path to the SQLite database file (default: ./gatekeeper.db)
	PepperFile     string // Path to the secret-hashing pepper, created on first start (default: ./pepper)
	MasterKeyFile  string // Path to the key that seals TOTP secrets, created on first start (default: ./master.key)
	SigningKeyFile string // Optional: PEM Ed25519 signing key. Empty means an ephemeral key per process

	AccessTTL         time.Duration // Access token lifetime (default: 15m)
	RefreshTTL        time.Duration // Refresh token lifetime, fixed server-side (default: 7d)
	ChallengeTTL      time.Duration // Two-factor challenge lifetime (default: 5m)
	ChallengeAttempts int           // Code attempts per challenge (default: 5)
	ResetTTL          time.Duration // Password-reset code lifetime (default: 5m)

	LockoutSchedule string        // Failures:duration steps (default: 5:1m,10:5m,15:1h)
	LockoutWindow   time.Duration // Failure counter decay window (default: 24h)

	EphemeralStore string // Where challenges and lockouts live: sqlite or redis (default: sqlite)
	RedisAddr      string // Redis address (default: localhost:6379)
	RedisPassword  string // Optional
	RedisDB        int    // Redis database number (default: 0)

	Notifier             string // Code delivery: log or webhook (default: log)
	NotifierWebhookURL   string // Required for the webhook notifier
	NotifierWebhookToken string // Optional bearer token for the webhook

	AdminToken string // Optional: enables the /v1/accounts endpoints

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		Issuer: getEnvOrDefault("AUTH_ISSUER", "gatekeeper"),

		DatabaseFile:   getEnvOrDefault("AUTH_DATABASE_FILE", "gatekeeper.db"),
		PepperFile:     getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		MasterKeyFile:  getEnvOrDefault("AUTH_MASTER_KEY_FILE", "master.key"),
		SigningKeyFile: os.Getenv("AUTH_SIGNING_KEY_FILE"),

		AccessTTL:         getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:        getEnvDurationOrDefault("AUTH_REFRESH_TTL", 7*24*time.Hour),
		ChallengeTTL:      getEnvDurationOrDefault("AUTH_CHALLENGE_TTL", 5*time.Minute),
		ChallengeAttempts: getEnvIntOrDefault("AUTH_CHALLENGE_ATTEMPTS", 5),
		ResetTTL:          getEnvDurationOrDefault("AUTH_RESET_TTL", 5*time.Minute),

		LockoutSchedule: getEnvOrDefault("AUTH_LOCKOUT_SCHEDULE", "5:1m,10:5m,15:1h"),
		LockoutWindow:   getEnvDurationOrDefault("AUTH_LOCKOUT_WINDOW", 24*time.Hour),

		EphemeralStore: getEnvOrDefault("AUTH_EPHEMERAL_STORE", "sqlite"),
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvIntOrDefault("REDIS_DB", 0),

		Notifier:             getEnvOrDefault("AUTH_NOTIFIER", "log"),
		NotifierWebhookURL:   os.Getenv("AUTH_NOTIFIER_WEBHOOK_URL"),
		NotifierWebhookToken: os.Getenv("AUTH_NOTIFIER_WEBHOOK_TOKEN"),

		AdminToken: os.Getenv("AUTH_ADMIN_TOKEN"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
