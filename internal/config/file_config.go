package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// FileConfig is the JSON layout of an optional configuration file.
// Durations are Go duration strings such as "168h" or "5s".
type FileConfig struct {
	Server     ServerSection     `json:"server"`
	Storage    StorageSection    `json:"storage"`
	Signals    SignalSection     `json:"signals"`
	Export     ExportSection     `json:"export"`
	Refinement RefinementSection `json:"refinement"`
	Guard      GuardSection      `json:"signal_guard"`
	RateLimit  RateLimitSection  `json:"rate_limiting"`
	Signing    SigningSection    `json:"signing"`
}

// ServerSection configures the HTTP listener
type ServerSection struct {
	Port           string `json:"port"`
	RequestTimeout string `json:"request_timeout"`
	OtelEndpoint   string `json:"otel_endpoint"`
	RandomSeed     uint64 `json:"random_seed"`
}

// StorageSection selects and configures the valuation store
type StorageSection struct {
	Backend       string `json:"backend"`
	MongoURI      string `json:"mongo_uri,omitempty"`
	MongoDatabase string `json:"mongo_database"`
	PostgresDSN   string `json:"postgres_dsn,omitempty"`
}

// SignalSection configures where market signals come from
type SignalSection struct {
	Source        string `json:"source"`
	File          string `json:"file"`
	FeedURL       string `json:"feed_url"`
	FeedAPIKey    string `json:"feed_api_key,omitempty"`
	Timeout       string `json:"timeout"`
	MaxAge        string `json:"max_age"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db"`
	CacheTTL      string `json:"cache_ttl"`
}

// ExportSection configures refinement event export
type ExportSection struct {
	Enabled       bool   `json:"enabled"`
	BatchSize     int    `json:"batch_size"`
	Interval      string `json:"interval"`
	WebhookURL    string `json:"webhook_url"`
	WebhookAPIKey string `json:"webhook_api_key,omitempty"`
	NATSURL       string `json:"nats_url"`
	NATSSubject   string `json:"nats_subject"`
}

// RefinementSection configures the daily refinement run
type RefinementSection struct {
	SchedulerEnabled *bool  `json:"scheduler_enabled,omitempty"`
	CronSpec         string `json:"cron_spec"`
	StalenessWindow  string `json:"staleness_window"`
}

// GuardSection configures the market signal guard
type GuardSection struct {
	Enabled          *bool   `json:"enabled,omitempty"`
	MaxTrendPercent  float64 `json:"max_trend_percent"`
	MaxPriceChange   float64 `json:"max_price_change"`
	ResetDelay       string  `json:"reset_delay"`
	SuccessThreshold int     `json:"success_threshold"`
}

// RateLimitSection configures inbound rate limiting
type RateLimitSection struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// SigningSection configures Business report signing
type SigningSection struct {
	Enabled           bool   `json:"enabled"`
	SignatureValidity string `json:"signature_validity"`
}

// LoadFile loads defaults, overlays the JSON file at path, then applies environment
// overrides. An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := fc.apply(&cfg); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	logrus.WithField("path", path).Info("Loaded configuration file")
	return cfg, nil
}

// apply copies every non-empty file value onto cfg
func (fc FileConfig) apply(cfg *Config) error {
	setString(&cfg.Port, fc.Server.Port)
	setString(&cfg.OtelEndpoint, fc.Server.OtelEndpoint)
	if fc.Server.RandomSeed != 0 {
		cfg.RandomSeed = fc.Server.RandomSeed
	}

	setString(&cfg.StorageBackend, fc.Storage.Backend)
	setString(&cfg.MongoURI, fc.Storage.MongoURI)
	setString(&cfg.MongoDatabase, fc.Storage.MongoDatabase)
	setString(&cfg.PostgresDSN, fc.Storage.PostgresDSN)

	setString(&cfg.SignalSource, fc.Signals.Source)
	setString(&cfg.SignalFile, fc.Signals.File)
	setString(&cfg.SignalFeedURL, fc.Signals.FeedURL)
	setString(&cfg.SignalFeedAPIKey, fc.Signals.FeedAPIKey)
	setString(&cfg.RedisAddr, fc.Signals.RedisAddr)
	setString(&cfg.RedisPassword, fc.Signals.RedisPassword)
	if fc.Signals.RedisDB != 0 {
		cfg.RedisDB = fc.Signals.RedisDB
	}

	if fc.Export.Enabled {
		cfg.ExportEnabled = true
	}
	if fc.Export.BatchSize > 0 {
		cfg.ExportBatchSize = fc.Export.BatchSize
	}
	setString(&cfg.WebhookURL, fc.Export.WebhookURL)
	setString(&cfg.WebhookAPIKey, fc.Export.WebhookAPIKey)
	setString(&cfg.NATSURL, fc.Export.NATSURL)
	setString(&cfg.NATSSubject, fc.Export.NATSSubject)

	if fc.Refinement.SchedulerEnabled != nil {
		cfg.SchedulerEnabled = *fc.Refinement.SchedulerEnabled
	}
	setString(&cfg.RefineCronSpec, fc.Refinement.CronSpec)

	if fc.Guard.Enabled != nil {
		cfg.GuardEnabled = *fc.Guard.Enabled
	}
	if fc.Guard.MaxTrendPercent > 0 {
		cfg.MaxTrendPercent = fc.Guard.MaxTrendPercent
	}
	if fc.Guard.MaxPriceChange > 0 {
		cfg.MaxPriceChange = fc.Guard.MaxPriceChange
	}
	if fc.Guard.SuccessThreshold > 0 {
		cfg.GuardSuccessThreshold = fc.Guard.SuccessThreshold
	}

	if fc.RateLimit.RequestsPerSecond > 0 {
		cfg.RateLimitRPS = fc.RateLimit.RequestsPerSecond
	}
	if fc.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = fc.RateLimit.Burst
	}

	if fc.Signing.Enabled {
		cfg.SigningEnabled = true
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"server.request_timeout", fc.Server.RequestTimeout, &cfg.RequestTimeout},
		{"signals.timeout", fc.Signals.Timeout, &cfg.SignalTimeout},
		{"signals.max_age", fc.Signals.MaxAge, &cfg.SignalMaxAge},
		{"signals.cache_ttl", fc.Signals.CacheTTL, &cfg.SignalCacheTTL},
		{"export.interval", fc.Export.Interval, &cfg.ExportInterval},
		{"refinement.staleness_window", fc.Refinement.StalenessWindow, &cfg.StalenessWindow},
		{"signal_guard.reset_delay", fc.Guard.ResetDelay, &cfg.GuardResetDelay},
		{"signing.signature_validity", fc.Signing.SignatureValidity, &cfg.SignatureValidity},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.field, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
