// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Extract  ExtractConfig  `mapstructure:"extract_api"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Detector DetectorConfig `mapstructure:"detector"`
	Store    StoreConfig    `mapstructure:"store"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Review   ReviewConfig   `mapstructure:"review"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetcherConfig governs the acquisition pipeline.
type FetcherConfig struct {
	RateLimit         int      `mapstructure:"rate_limit"`
	RateWindowSeconds int      `mapstructure:"rate_window_seconds"`
	MaxConcurrent     int      `mapstructure:"max_concurrent"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	ChunkPauseSeconds int      `mapstructure:"chunk_pause_seconds"`
	UserAgent         string   `mapstructure:"user_agent"`
	BlockedHosts      []string `mapstructure:"blocked_hosts"`
	MinContentBytes   int      `mapstructure:"min_content_bytes"`
	BlockKeywords     []string `mapstructure:"block_keywords"`
}

// HeadlessConfig configures the browser-automation fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ExtractConfig configures the hosted extraction service fallback.
type ExtractConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CacheConfig controls the Redis snapshot cache.
type CacheConfig struct {
	Addr              string `mapstructure:"addr"`
	Password          string `mapstructure:"password"`
	DB                int    `mapstructure:"db"`
	KeyPrefix         string `mapstructure:"key_prefix"`
	DefaultTTLSeconds int    `mapstructure:"default_ttl_seconds"`
	SimilarityHorizon int    `mapstructure:"similarity_horizon_seconds"`
}

// DetectorConfig holds the change-detection heuristics. The thresholds are
// tuned by observation, not derivation; keep them adjustable.
type DetectorConfig struct {
	DescriptionSimilarity   float64  `mapstructure:"description_similarity"`
	NumericDelta            float64  `mapstructure:"numeric_delta"`
	MinAlternativeScore     float64  `mapstructure:"min_alternative_score"`
	DiscontinuedConfidence  float64  `mapstructure:"discontinued_confidence"`
	DiscontinuationKeywords []string `mapstructure:"discontinuation_keywords"`
	CriticalKeywords        []string `mapstructure:"critical_keywords"`
}

// StoreConfig controls the durable Postgres snapshot store.
type StoreConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig sets the raw-content archive backend.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"` // memory, local or gcs
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ReviewConfig selects the verification-queue publisher.
type ReviewConfig struct {
	Backend   string `mapstructure:"backend"` // memory or pubsub
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MonitorConfig controls the periodic re-check loop.
type MonitorConfig struct {
	URLs            []string `mapstructure:"urls"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	MaxAlternatives int      `mapstructure:"max_alternatives"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPECWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetcher.rate_limit", 10)
	v.SetDefault("fetcher.rate_window_seconds", 60)
	v.SetDefault("fetcher.max_concurrent", 5)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.chunk_pause_seconds", 2)
	v.SetDefault("fetcher.user_agent", "specwatch-bot/0.1")
	v.SetDefault("fetcher.min_content_bytes", 256)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("extract_api.enabled", false)
	v.SetDefault("extract_api.timeout_seconds", 60)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.key_prefix", "specwatch")
	v.SetDefault("cache.default_ttl_seconds", 3600)
	v.SetDefault("cache.similarity_horizon_seconds", 86400)
	v.SetDefault("detector.description_similarity", 0.8)
	v.SetDefault("detector.numeric_delta", 0.05)
	v.SetDefault("detector.min_alternative_score", 0.3)
	v.SetDefault("detector.discontinued_confidence", 0.2)
	v.SetDefault("store.table", "snapshots")
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("review.backend", "memory")
	v.SetDefault("review.topic", "review-items")
	v.SetDefault("monitor.interval_seconds", 3600)
	v.SetDefault("monitor.max_alternatives", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetcher.RateLimit <= 0 {
		return fmt.Errorf("fetcher.rate_limit must be > 0")
	}
	if c.Fetcher.RateWindowSeconds <= 0 {
		return fmt.Errorf("fetcher.rate_window_seconds must be > 0")
	}
	if c.Fetcher.MaxConcurrent <= 0 {
		return fmt.Errorf("fetcher.max_concurrent must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Extract.Enabled && c.Extract.Endpoint == "" {
		return fmt.Errorf("extract_api.endpoint must be set when the extract API is enabled")
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("cache.default_ttl_seconds must be > 0")
	}
	if s := c.Detector.DescriptionSimilarity; s < 0 || s > 1 {
		return fmt.Errorf("detector.description_similarity must be in [0,1]")
	}
	switch c.Archive.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend must be memory, local or gcs")
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
	}
	if c.Archive.Backend == "local" && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set for the local backend")
	}
	switch c.Review.Backend {
	case "memory", "pubsub":
	default:
		return fmt.Errorf("review.backend must be memory or pubsub")
	}
	if c.Review.Backend == "pubsub" && c.Review.ProjectID == "" {
		return fmt.Errorf("review.project_id must be set for the pubsub backend")
	}
	return nil
}

// FetchTimeout returns the per-attempt wall-clock budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// RateWindow returns the rolling rate-limit window.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.Fetcher.RateWindowSeconds) * time.Second
}

// ChunkPause returns the delay between batch chunks.
func (c Config) ChunkPause() time.Duration {
	return time.Duration(c.Fetcher.ChunkPauseSeconds) * time.Second
}

// DefaultTTL returns the snapshot cache TTL.
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.Cache.DefaultTTLSeconds) * time.Second
}

// SimilarityHorizon returns the fixed expiry of the similarity index.
func (c Config) SimilarityHorizon() time.Duration {
	return time.Duration(c.Cache.SimilarityHorizon) * time.Second
}

// MonitorInterval returns the re-check period.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}
