package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Storage
	SQLitePath string

	// Routing thresholds
	MinScoreThreshold      int
	MinIntentConfidence    int
	IntentConfidenceMargin int
	MaxUnroutedDays        int

	// Owner assignment
	AssignmentStrategy string
	AssignmentRole     string

	// Intent → pipeline mapping (static, by slug)
	ResearchPipeline   string
	B2BPipeline        string
	CoCreationPipeline string

	// Rule engine
	RuleRefreshInterval time.Duration
	SweepInterval       time.Duration

	// External services
	MocoAPIURL       string
	MocoAPIKey       string
	NotifyWebhookURL string
	MailAPIURL       string
	MailAPIKey       string
	MailFrom         string
	BookingAPIURL    string
	BookingAPIKey    string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Queue
	QueueWorkers int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SQLitePath: getEnv("SQLITE_PATH", "lead-engine.db"),

		MinScoreThreshold:      getEnvInt("MIN_SCORE_THRESHOLD", 40),
		MinIntentConfidence:    getEnvInt("MIN_INTENT_CONFIDENCE", 60),
		IntentConfidenceMargin: getEnvInt("INTENT_CONFIDENCE_MARGIN", 15),
		MaxUnroutedDays:        getEnvInt("MAX_UNROUTED_DAYS", 14),

		AssignmentStrategy: getEnv("ASSIGNMENT_STRATEGY", "round_robin"),
		AssignmentRole:     getEnv("ASSIGNMENT_ROLE", "account_executive"),

		ResearchPipeline:   getEnv("PIPELINE_RESEARCH", "research"),
		B2BPipeline:        getEnv("PIPELINE_B2B", "b2b-sales"),
		CoCreationPipeline: getEnv("PIPELINE_CO_CREATION", "co-creation"),

		RuleRefreshInterval: getEnvDuration("RULE_REFRESH_INTERVAL", 5*time.Minute),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Hour),

		MocoAPIURL:       getEnv("MOCO_API_URL", ""),
		MocoAPIKey:       getEnv("MOCO_API_KEY", ""),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		MailAPIURL:       getEnv("MAIL_API_URL", ""),
		MailAPIKey:       getEnv("MAIL_API_KEY", ""),
		MailFrom:         getEnv("MAIL_FROM", "no-reply@lead-engine.local"),
		BookingAPIURL:    getEnv("BOOKING_API_URL", ""),
		BookingAPIKey:    getEnv("BOOKING_API_KEY", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		QueueWorkers: getEnvInt("QUEUE_WORKERS", 4),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
