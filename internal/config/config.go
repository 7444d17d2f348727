// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/themewatch/themewatch/internal/themes"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	DB       DBConfig       `mapstructure:"db"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// UpstreamConfig points at the themes directory API.
type UpstreamConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PerPage        int    `mapstructure:"per_page"`
	PerPageLarge   int    `mapstructure:"per_page_large"`
}

// CrawlConfig governs scheduling and the ingestion pipeline.
type CrawlConfig struct {
	InfoCooldownSeconds  int    `mapstructure:"info_cooldown_seconds"`
	TagsCooldownSeconds  int    `mapstructure:"tags_cooldown_seconds"`
	StatsCooldownSeconds int    `mapstructure:"stats_cooldown_seconds"`
	StaleAfterSeconds    int    `mapstructure:"stale_after_seconds"`
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
	PaginationMode       string `mapstructure:"pagination_mode"`
	StatsSnapshots       bool   `mapstructure:"stats_snapshots"`
	Concurrency          int    `mapstructure:"concurrency"`
	QueueDepth           int    `mapstructure:"queue_depth"`
	MaxRetries           int    `mapstructure:"max_retries"`
}

// Pagination modes for the page walker.
const (
	PaginationBus  = "bus"
	PaginationLoop = "loop"
)

// DBConfig selects and configures the relational store.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// QueueConfig selects and configures the crawl job bus.
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// ArchiveConfig selects the raw-response archive provider.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("THEMEWATCH")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("upstream.base_url", "https://api.wordpress.org")
	v.SetDefault("upstream.user_agent", "themewatch/1.0")
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("upstream.per_page", 1000)
	v.SetDefault("upstream.per_page_large", 10000)
	v.SetDefault("crawl.info_cooldown_seconds", 60)
	v.SetDefault("crawl.tags_cooldown_seconds", 60)
	v.SetDefault("crawl.stats_cooldown_seconds", 300)
	v.SetDefault("crawl.stale_after_seconds", 21600)
	v.SetDefault("crawl.check_interval_seconds", 30)
	v.SetDefault("crawl.pagination_mode", PaginationBus)
	v.SetDefault("crawl.stats_snapshots", true)
	v.SetDefault("crawl.concurrency", 2)
	v.SetDefault("crawl.queue_depth", 64)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("db.provider", "sqlite")
	v.SetDefault("db.dsn", "themewatch.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "pages")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.PaginationMode != PaginationBus && c.Crawl.PaginationMode != PaginationLoop {
		return fmt.Errorf("crawl.pagination_mode must be %q or %q", PaginationBus, PaginationLoop)
	}
	switch c.DB.Provider {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown db provider: %s", c.DB.Provider)
	}
	if c.DB.Provider != "memory" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set for provider %q", c.DB.Provider)
	}
	switch c.Queue.Provider {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription must be set for pubsub")
		}
	default:
		return fmt.Errorf("unknown queue provider: %s", c.Queue.Provider)
	}
	switch c.Archive.Provider {
	case "noop", "memory":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	return nil
}

// Cooldowns maps each crawl kind to its configured cooldown.
func (c Config) Cooldowns() map[themes.CrawlKind]time.Duration {
	return map[themes.CrawlKind]time.Duration{
		themes.CrawlInfo:  time.Duration(c.Crawl.InfoCooldownSeconds) * time.Second,
		themes.CrawlTags:  time.Duration(c.Crawl.TagsCooldownSeconds) * time.Second,
		themes.CrawlStats: time.Duration(c.Crawl.StatsCooldownSeconds) * time.Second,
	}
}

// StaleAfter is the age past which a running crawl is considered abandoned.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Crawl.StaleAfterSeconds) * time.Second
}

// UpstreamTimeout converts the upstream timeout into a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}
