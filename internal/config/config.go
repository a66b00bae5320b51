// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
)

// Market signal sources
const (
	SignalSourceStatic = "static"
	SignalSourceHTTP   = "http"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Request timeout for inbound API calls
	RequestTimeout time.Duration

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Storage backend (memory, mongo, postgres) and connection settings
	StorageBackend string
	MongoURI       string
	MongoDatabase  string
	PostgresDSN    string

	// Market signal source (static, http) and feed settings
	SignalSource     string
	SignalFile       string
	SignalFeedURL    string
	SignalFeedAPIKey string
	SignalTimeout    time.Duration
	SignalMaxAge     time.Duration

	// Redis cache in front of the signal source; empty address disables it
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SignalCacheTTL time.Duration

	// Refinement event export
	ExportEnabled   bool
	ExportBatchSize int
	ExportInterval  time.Duration
	WebhookURL      string
	WebhookAPIKey   string
	NATSURL         string
	NATSSubject     string

	// Refinement scheduling
	SchedulerEnabled bool
	RefineCronSpec   string
	StalenessWindow  time.Duration

	// Market signal guard settings
	GuardEnabled          bool
	MaxTrendPercent       float64
	MaxPriceChange        float64
	GuardResetDelay       time.Duration
	GuardSuccessThreshold int

	// Inbound rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Business report signing
	SigningEnabled    bool
	SignatureValidity time.Duration
	SigningKey        string

	// Seed for the trend and demand synthesis; 0 means time-based
	RandomSeed uint64
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Port:                  "8080",
		RequestTimeout:        10 * time.Second,
		StorageBackend:        StorageMemory,
		MongoDatabase:         "valuations",
		SignalSource:          SignalSourceStatic,
		SignalTimeout:         5 * time.Second,
		SignalMaxAge:          30 * 24 * time.Hour,
		SignalCacheTTL:        time.Hour,
		ExportBatchSize:       100,
		ExportInterval:        time.Minute,
		NATSSubject:           "valuations.refined",
		SchedulerEnabled:      true,
		RefineCronSpec:        "0 0 0 * * *",
		StalenessWindow:       7 * 24 * time.Hour,
		GuardEnabled:          true,
		MaxTrendPercent:       50,
		MaxPriceChange:        0.5,
		GuardResetDelay:       5 * time.Minute,
		GuardSuccessThreshold: 3,
		RateLimitRPS:          10,
		RateLimitBurst:        20,
		SignatureValidity:     30 * 24 * time.Hour,
	}
}

// Load creates a new Config from environment variables
func Load() Config {
	cfg := DefaultConfig()
	applyEnvOverrides(&cfg)
	return cfg
}

// applyEnvOverrides replaces every setting whose environment variable is present
func applyEnvOverrides(cfg *Config) {
	cfg.Port = GetEnvOrDefault("PORT", cfg.Port)
	cfg.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint)

	cfg.StorageBackend = strings.ToLower(GetEnvOrDefault("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.MongoURI = GetEnvOrDefault("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = GetEnvOrDefault("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.PostgresDSN = GetEnvOrDefault("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.SignalSource = strings.ToLower(GetEnvOrDefault("SIGNAL_SOURCE", cfg.SignalSource))
	cfg.SignalFile = GetEnvOrDefault("SIGNAL_FILE", cfg.SignalFile)
	cfg.SignalFeedURL = GetEnvOrDefault("SIGNAL_FEED_URL", cfg.SignalFeedURL)
	cfg.SignalFeedAPIKey = GetEnvOrDefault("SIGNAL_FEED_API_KEY", cfg.SignalFeedAPIKey)
	cfg.SignalTimeout = GetEnvAsDuration("SIGNAL_TIMEOUT", cfg.SignalTimeout)
	cfg.SignalMaxAge = GetEnvAsDuration("SIGNAL_MAX_AGE", cfg.SignalMaxAge)

	cfg.RedisAddr = GetEnvOrDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = GetEnvOrDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = GetEnvAsInt("REDIS_DB", cfg.RedisDB)
	cfg.SignalCacheTTL = GetEnvAsDuration("SIGNAL_CACHE_TTL", cfg.SignalCacheTTL)

	cfg.ExportEnabled = GetEnvAsBool("EXPORT_ENABLED", cfg.ExportEnabled)
	cfg.ExportBatchSize = GetEnvAsInt("EXPORT_BATCH_SIZE", cfg.ExportBatchSize)
	cfg.ExportInterval = GetEnvAsDuration("EXPORT_INTERVAL", cfg.ExportInterval)
	cfg.WebhookURL = GetEnvOrDefault("WEBHOOK_URL", cfg.WebhookURL)
	cfg.WebhookAPIKey = GetEnvOrDefault("WEBHOOK_API_KEY", cfg.WebhookAPIKey)
	cfg.NATSURL = GetEnvOrDefault("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = GetEnvOrDefault("NATS_SUBJECT", cfg.NATSSubject)

	cfg.SchedulerEnabled = GetEnvAsBool("SCHEDULER_ENABLED", cfg.SchedulerEnabled)
	cfg.RefineCronSpec = GetEnvOrDefault("REFINE_CRON", cfg.RefineCronSpec)
	cfg.StalenessWindow = GetEnvAsDuration("STALENESS_WINDOW", cfg.StalenessWindow)

	cfg.GuardEnabled = GetEnvAsBool("SIGNAL_GUARD_ENABLED", cfg.GuardEnabled)
	cfg.MaxTrendPercent = GetEnvAsFloat("MAX_TREND_PERCENT", cfg.MaxTrendPercent)
	cfg.MaxPriceChange = GetEnvAsFloat("MAX_PRICE_CHANGE", cfg.MaxPriceChange)
	cfg.GuardResetDelay = GetEnvAsDuration("SIGNAL_GUARD_RESET_DELAY", cfg.GuardResetDelay)
	cfg.GuardSuccessThreshold = GetEnvAsInt("SIGNAL_GUARD_SUCCESS_THRESHOLD", cfg.GuardSuccessThreshold)

	cfg.RateLimitRPS = GetEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.SigningEnabled = GetEnvAsBool("REPORT_SIGNING_ENABLED", cfg.SigningEnabled)
	cfg.SignatureValidity = GetEnvAsDuration("SIGNATURE_VALIDITY", cfg.SignatureValidity)
	cfg.SigningKey = GetEnvOrDefault("REPORT_SIGNING_KEY", cfg.SigningKey)

	cfg.RandomSeed = uint64(GetEnvAsInt("RANDOM_SEED", int(cfg.RandomSeed)))
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
