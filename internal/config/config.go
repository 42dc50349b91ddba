package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/cloudlog/internal/schema"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Sources    SourcesConfig    `mapstructure:"sources" yaml:"sources"`
	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch" yaml:"opensearch"`
	DLQ        DLQConfig        `mapstructure:"dlq" yaml:"dlq"`
	Dedup      DedupConfig      `mapstructure:"dedup" yaml:"dedup"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SourceConfig is the per-source pipeline configuration.
type SourceConfig struct {
	Enabled             bool `mapstructure:"enabled" yaml:"enabled"`
	KeepOriginalMessage bool `mapstructure:"keep_original_message" yaml:"keep_original_message"`
	Debug               bool `mapstructure:"debug" yaml:"debug"`
}

type SourcesConfig struct {
	Audit      SourceConfig `mapstructure:"audit" yaml:"audit"`
	BigQuery   SourceConfig `mapstructure:"bigquery" yaml:"bigquery"`
	CloudArmor SourceConfig `mapstructure:"cloud_armor" yaml:"cloud_armor"`
}

// For returns the configuration of s. Unknown sources are disabled.
func (s SourcesConfig) For(source schema.Source) SourceConfig {
	switch source {
	case schema.Audit:
		return s.Audit
	case schema.BigQuery:
		return s.BigQuery
	case schema.CloudArmor:
		return s.CloudArmor
	default:
		return SourceConfig{}
	}
}

// Enabled lists the enabled sources in a stable order.
func (s SourcesConfig) Enabled() []schema.Source {
	var out []schema.Source
	for _, source := range schema.Sources() {
		if s.For(source).Enabled {
			out = append(out, source)
		}
	}
	return out
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	URL           string        `mapstructure:"url" yaml:"url"`
	Name          string        `mapstructure:"name" yaml:"name"`
	QueueGroup    string        `mapstructure:"queue_group" yaml:"queue_group"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	Publish       bool          `mapstructure:"publish" yaml:"publish"`
}

type OpenSearchConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	URL               string        `mapstructure:"url" yaml:"url"`
	Username          string        `mapstructure:"username" yaml:"username"`
	Password          string        `mapstructure:"password" yaml:"password"`
	TLSSkipVerify     bool          `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
	IndexPrefix       string        `mapstructure:"index_prefix" yaml:"index_prefix"`
	BulkBatchSize     int           `mapstructure:"bulk_batch_size" yaml:"bulk_batch_size"`
	BulkFlushInterval time.Duration `mapstructure:"bulk_flush_interval" yaml:"bulk_flush_interval"`
}

type DLQConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Backend is "file" or "jetstream".
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
	Stream  string `mapstructure:"stream" yaml:"stream"`
}

type DedupConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	RedisURL  string        `mapstructure:"redis_url" yaml:"redis_url"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// RateLimitConfig bounds normalize requests per source across all instances.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	RedisURL  string        `mapstructure:"redis_url" yaml:"redis_url"`
	Limit     int           `mapstructure:"limit" yaml:"limit"`
	Window    time.Duration `mapstructure:"window" yaml:"window"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_body_bytes", 4<<20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	for _, source := range schema.Sources() {
		prefix := "sources." + source.String()
		v.SetDefault(prefix+".enabled", true)
		v.SetDefault(prefix+".keep_original_message", false)
		v.SetDefault(prefix+".debug", false)
	}
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "cloudlog")
	v.SetDefault("nats.queue_group", "cloudlog-normalizers")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.publish", true)
	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index_prefix", "cloudlog")
	v.SetDefault("opensearch.bulk_batch_size", 1000)
	v.SetDefault("opensearch.bulk_flush_interval", "5s")
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.path", "/var/lib/cloudlog/dlq")
	v.SetDefault("dlq.stream", "CLOUDLOG_DLQ")
	v.SetDefault("dedup.enabled", false)
	v.SetDefault("dedup.redis_url", "redis://localhost:6379/0")
	v.SetDefault("dedup.ttl", "10m")
	v.SetDefault("dedup.key_prefix", "cloudlog:seen:")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.redis_url", "redis://localhost:6379/0")
	v.SetDefault("rate_limit.limit", 5000)
	v.SetDefault("rate_limit.window", "1s")
	v.SetDefault("rate_limit.key_prefix", "cloudlog:ratelimit:")
}

// Load reads configuration from configPath (or ./config.yaml, /etc/cloudlog/config.yaml) and
// CLOUDLOG_* environment overrides, e.g. CLOUDLOG_SOURCES_AUDIT_KEEP_ORIGINAL_MESSAGE.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cloudlog")
	}

	v.SetEnvPrefix("CLOUDLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings that cannot be served.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.DLQ.Enabled {
		switch c.DLQ.Backend {
		case "file":
			if c.DLQ.Path == "" {
				return fmt.Errorf("dlq.path is required for the file backend")
			}
		case "jetstream":
			if !c.NATS.Enabled {
				return fmt.Errorf("dlq backend jetstream requires nats.enabled")
			}
		default:
			return fmt.Errorf("unknown dlq.backend %q", c.DLQ.Backend)
		}
	}
	if c.Dedup.Enabled && c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup.ttl must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.limit and rate_limit.window must be positive")
	}
	return nil
}

// Write renders the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
