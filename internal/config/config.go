// Package config loads cqevent settings from defaults, an optional YAML file,
// a .env file and CQEVENT_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cqhawk/cqevent/internal/messaging"
)

// EnvPrefix prefixes every environment override, e.g. CQEVENT_NATS_URL.
const EnvPrefix = "CQEVENT"

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Subjects SubjectsConfig `mapstructure:"subjects"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Workers  WorkersConfig  `mapstructure:"workers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CatalogConfig lists YAML catalogs merged over the built-in one, in order.
type CatalogConfig struct {
	Paths []string `mapstructure:"paths"`
}

// ServerConfig holds HTTP server settings for health, metrics and catalog endpoints.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	QueueGroup    string        `mapstructure:"queue_group"`
}

// SubjectsConfig holds the subjects raw payloads arrive on and events leave on.
type SubjectsConfig struct {
	Raw          string `mapstructure:"raw"`
	EventsPrefix string `mapstructure:"events_prefix"`
}

// DLQConfig holds dead letter queue configuration.
type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`   // "jetstream" or "file"
	BasePath string `mapstructure:"base_path"` // file backend only
}

// RedisConfig configures duplicate suppression.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// WorkersConfig sizes the processing pool.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment apply. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
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

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	}
	switch c.DLQ.Backend {
	case "jetstream", "file":
	default:
		return fmt.Errorf("dlq.backend must be jetstream or file, got %q", c.DLQ.Backend)
	}
	if c.DLQ.Enabled && c.DLQ.Backend == "file" && c.DLQ.BasePath == "" {
		return fmt.Errorf("dlq.base_path is required for the file backend")
	}
	if c.Subjects.Raw == "" {
		return fmt.Errorf("subjects.raw is required")
	}
	return nil
}

// EventSubject returns the subject a classified event is published on.
func (s SubjectsConfig) EventSubject(name string) string {
	return messaging.EventSubject(s.EventsPrefix, name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("catalog.paths", []string{})

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "cqevent")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.queue_group", messaging.QueueClassifiers)

	v.SetDefault("subjects.raw", "cqhttp.raw.>")
	v.SetDefault("subjects.events_prefix", "cqhttp.events")

	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.backend", "jetstream")
	v.SetDefault("dlq.base_path", "/var/lib/cqevent/dlq")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.dedup_ttl", "5m")

	v.SetDefault("workers.count", 4)
}
