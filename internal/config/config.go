// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Downloads Settings        `mapstructure:"downloads"`
	GC        GCConfig        `mapstructure:"gc"`
	Transport TransportConfig `mapstructure:"transport"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Validator ValidatorConfig `mapstructure:"validator"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// GCConfig sets the two expiry paths for terminal jobs.
type GCConfig struct {
	FastDelay     time.Duration `mapstructure:"fast_delay"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Retention     time.Duration `mapstructure:"retention"`
}

// TransportConfig tunes the fetcher.
type TransportConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	PerHostRPS   float64       `mapstructure:"per_host_rps"`
	PerHostBurst int           `mapstructure:"per_host_burst"`
}

// StorageConfig selects where fetched files are written.
type StorageConfig struct {
	Backend   string             `mapstructure:"backend"`
	Local     LocalStorageConfig `mapstructure:"local"`
	GCSBucket string             `mapstructure:"gcs_bucket"`
}

// LocalStorageConfig roots the local backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ValidatorConfig controls the reachability probe applied to rewritten URLs.
type ValidatorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should go to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

// Open loads the Config and returns a Store that persists runtime settings
// back to the same file.
func Open(path string) (Config, *Store, error) {
	cfg, v, err := load(path)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, &Store{v: v, path: path, current: cfg.Downloads}, nil
}

func load(path string) (Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIAFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}

	return cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("downloads.max_concurrent", 5)
	v.SetDefault("downloads.max_attempts", 3)
	v.SetDefault("downloads.retry_delay", time.Second)
	v.SetDefault("downloads.auto_retry", true)
	v.SetDefault("downloads.notifications", true)
	v.SetDefault("downloads.path", "downloads")
	v.SetDefault("gc.fast_delay", 5*time.Minute)
	v.SetDefault("gc.sweep_interval", time.Hour)
	v.SetDefault("gc.retention", 24*time.Hour)
	v.SetDefault("transport.user_agent", "mediafetch/0.1")
	v.SetDefault("transport.timeout", 60*time.Second)
	v.SetDefault("transport.max_body_bytes", 0)
	v.SetDefault("transport.per_host_rps", 2.0)
	v.SetDefault("transport.per_host_burst", 2)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local.base_dir", ".")
	v.SetDefault("validator.enabled", false)
	v.SetDefault("validator.timeout", 3*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Downloads.Validate(); err != nil {
		return err
	}
	if c.GC.FastDelay <= 0 || c.GC.SweepInterval <= 0 || c.GC.Retention <= 0 {
		return fmt.Errorf("gc durations must be > 0")
	}
	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("transport.timeout must be > 0")
	}
	if c.Transport.PerHostRPS < 0 || c.Transport.PerHostBurst < 0 {
		return fmt.Errorf("transport rate limits must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	if c.Validator.Enabled && c.Validator.Timeout <= 0 {
		return fmt.Errorf("validator.timeout must be > 0 when the validator is enabled")
	}
	return nil
}
