// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Logging
	LogLevel  string
	LogFormat string // "json", "text", or empty for TTY detection

	// Database
	DatabaseURL    string
	TursoURL       string // Enables embedded replica sync when set
	TursoAuthToken string

	// Redis (optional; shared quota counters and job locks across replicas)
	RedisURL string

	// Clerk Authentication
	ClerkIssuerURL     string // e.g., "https://xxx.clerk.accounts.dev"
	ClerkSecretKey     string // Clerk Backend API secret key (sk_xxx)
	ClerkWebhookSecret string // Svix signing secret for Clerk webhooks

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Shared secret for external cron triggers
	CronSecret string

	EncryptionKey []byte // 32-byte key for AES-256-GCM encryption

	// CORS
	CORSOrigins []string

	// Scheduling (cron expressions, UTC)
	SchedulerEnabled       bool
	DailyIndexSchedule     string
	RetryFailedSchedule    string
	CoverageResyncSchedule string

	// Alerting
	AlertWebhookURL    string
	AlertTemplatesFile string
	AdminAlertUser     string

	// Object Storage (Tigris/S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string

	// Tuning
	DeadPageAlertThreshold int
	SignupBonusCredits     int64
	GoogleAPIRate          float64 // Requests per second across all users, 0 = unpaced

	// Cleanup
	CleanupEnabled         bool
	CleanupInterval        time.Duration
	QuotaRetentionDays     int
	ReportArchiveRetention time.Duration

	// Manual-run worker
	WorkerConcurrency         int
	WorkerQueueSize           int
	WorkerShutdownGracePeriod time.Duration

	// Stop after this long without traffic or work, 0 = never. Only applies
	// when the in-process scheduler is off.
	IdleTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    getEnvInt("PORT", 8080),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),

		DatabaseURL:    getEnv("DATABASE_URL", "file:autoindex.db?_journal=WAL&_timeout=5000"),
		TursoURL:       getEnv("TURSO_URL", ""),
		TursoAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		ClerkIssuerURL:     getEnv("CLERK_ISSUER_URL", ""),
		ClerkSecretKey:     getEnv("CLERK_SECRET_KEY", ""),
		ClerkWebhookSecret: getEnv("CLERK_WEBHOOK_SECRET", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		CronSecret: getEnv("CRON_SECRET", ""),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		SchedulerEnabled:       getEnvBool("SCHEDULER_ENABLED", true),
		DailyIndexSchedule:     getEnv("DAILY_INDEX_SCHEDULE", "0 3 * * *"),
		RetryFailedSchedule:    getEnv("RETRY_FAILED_SCHEDULE", "0 */6 * * *"),
		CoverageResyncSchedule: getEnv("COVERAGE_RESYNC_SCHEDULE", "0 4 * * 0"),

		AlertWebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
		AlertTemplatesFile: getEnv("ALERT_TEMPLATES_FILE", ""),
		AdminAlertUser:     getEnv("ADMIN_ALERT_USER", ""),

		StorageEndpoint:  getEnvWithFallback("STORAGE_ENDPOINT", "AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnvWithFallback("STORAGE_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnvWithFallback("STORAGE_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("STORAGE_BUCKET", "BUCKET_NAME", ""),
		StorageRegion:    getEnvWithFallback("STORAGE_REGION", "AWS_REGION", "auto"),

		DeadPageAlertThreshold: getEnvInt("DEAD_PAGE_ALERT_THRESHOLD", 5),
		SignupBonusCredits:     int64(getEnvInt("SIGNUP_BONUS_CREDITS", 10)),
		GoogleAPIRate:          getEnvFloat("GOOGLE_API_RATE", 5),

		CleanupEnabled:         getEnvBool("CLEANUP_ENABLED", true),
		CleanupInterval:        getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
		QuotaRetentionDays:     getEnvInt("QUOTA_RETENTION_DAYS", 30),
		ReportArchiveRetention: getEnvDuration("REPORT_ARCHIVE_RETENTION", 90*24*time.Hour),

		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerQueueSize:           getEnvInt("WORKER_QUEUE_SIZE", 64),
		WorkerShutdownGracePeriod: getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute),

		IdleTimeout: getEnvDuration("IDLE_TIMEOUT", 0),
	}

	// Storage is on when explicitly enabled, or implicitly when bucket and endpoint are set.
	cfg.StorageEnabled = getEnvBool("STORAGE_ENABLED", cfg.StorageBucket != "" && cfg.StorageEndpoint != "")
	if cfg.StorageEnabled && cfg.StorageBucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET is required when STORAGE_ENABLED is set")
	}

	if cfg.DeadPageAlertThreshold < 1 {
		return nil, fmt.Errorf("DEAD_PAGE_ALERT_THRESHOLD must be at least 1")
	}

	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		// Derive from the Clerk secret so keys survive restarts without extra config.
		cfg.EncryptionKey = deriveEncryptionKey(cfg.ClerkSecretKey)
	}

	return cfg, nil
}

// AuthEnabled returns true if Clerk session verification is configured.
func (c *Config) AuthEnabled() bool {
	return c.ClerkIssuerURL != ""
}

// RedisEnabled returns true if a Redis URL is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// AlertingEnabled returns true if the alert webhook is configured.
func (c *Config) AlertingEnabled() bool {
	return c.AlertWebhookURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string using HKDF.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("autoindex-api-encryption-key-v1")
	info := []byte("indexnow-key-at-rest")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
