package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Store
	StorePath string

	// Accounts
	AccountsFile string

	// JWT
	JWTSecret string

	// API rate limit per client and minute; zero disables.
	RateLimitPerMin int

	// Inference (Ollama-compatible endpoint)
	InferenceURL         string
	InferenceModel       string
	InferenceTimeoutSec  int
	ExtractionTimeoutSec int
	ClassifyTemperature  float64
	ReplyTemperature     float64

	// Tool endpoint (remote action gateway)
	ToolEndpointURL string
	ToolTimeoutSec  int

	// Labels
	LabelPrefix string
	Taxonomy    []string

	// Sync
	SyncInterval     time.Duration
	SyncMaxMessages  int
	SyncWorkers      int
	PendingDrainSize int

	// IMAP connection pool
	PoolMaxIdleSec int

	// Action agent
	ActionMaxRetries int

	// Feedback retention
	FeedbackMaxAgeDays    int
	FeedbackPerAccountCap int

	// Scheduler
	SchedulerEnabled bool
	IdleEnabled      bool

	// Logging
	LogLevel  string
	LogPretty bool
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Store
		StorePath: getEnv("MAIL_STORE_PATH", "mail.db"),

		// Accounts
		AccountsFile: getEnv("MAIL_ACCOUNTS_FILE", "accounts.toml"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Rate limit
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 0),

		// Inference
		InferenceURL:         getEnv("INFERENCE_URL", "http://localhost:11434"),
		InferenceModel:       getEnv("INFERENCE_MODEL", "llama3.2:3b"),
		InferenceTimeoutSec:  getEnvInt("INFERENCE_TIMEOUT_SEC", 30),
		ExtractionTimeoutSec: getEnvInt("EXTRACTION_TIMEOUT_SEC", 60),
		ClassifyTemperature:  getEnvFloat("CLASSIFY_TEMPERATURE", 0.2),
		ReplyTemperature:     getEnvFloat("REPLY_TEMPERATURE", 0.7),

		// Tool endpoint
		ToolEndpointURL: getEnv("TOOL_ENDPOINT_URL", ""),
		ToolTimeoutSec:  getEnvInt("TOOL_TIMEOUT_SEC", 30),

		// Labels
		LabelPrefix: getEnv("LABEL_PREFIX", "AI/"),
		Taxonomy:    getEnvSlice("TAG_TAXONOMY", nil),

		// Sync
		SyncInterval:     time.Duration(getEnvInt("SYNC_INTERVAL_SEC", 300)) * time.Second,
		SyncMaxMessages:  getEnvInt("SYNC_MAX_MESSAGES", 50),
		SyncWorkers:      getEnvInt("SYNC_WORKERS", 4),
		PendingDrainSize: getEnvInt("PENDING_DRAIN_SIZE", 50),

		// IMAP connection pool
		PoolMaxIdleSec: getEnvInt("POOL_MAX_IDLE_SEC", 300),

		// Action agent
		ActionMaxRetries: getEnvInt("ACTION_MAX_RETRIES", 3),

		// Feedback retention
		FeedbackMaxAgeDays:    getEnvInt("FEEDBACK_MAX_AGE_DAYS", 90),
		FeedbackPerAccountCap: getEnvInt("FEEDBACK_PER_ACCOUNT_CAP", 200),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		IdleEnabled:      getEnvBool("IDLE_ENABLED", true),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}, nil
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
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
