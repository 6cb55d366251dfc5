// Package config loads StrIEM configuration from an optional file
// (YAML, TOML or JSON) with environment overrides prefixed STRIEM_.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfig marks fatal startup configuration errors; main exits 1 on it.
var ErrConfig = errors.New("configuration error")

// Config is the full process configuration.
type Config struct {
	// Detections lists the Sigma rule directories.
	Detections []string      `mapstructure:"detections"`
	Input      InputConfig   `mapstructure:"input"`
	Output     OutputConfig  `mapstructure:"output"`
	Storage    StorageConfig `mapstructure:"storage"`
	API        APIConfig     `mapstructure:"api"`
	Remaps     string        `mapstructure:"remaps"`
	Logging    LoggingConfig `mapstructure:"logging"`
}

// InputConfig configures the collector-facing listener.
type InputConfig struct {
	Vector VectorListenConfig `mapstructure:"vector"`
}

// VectorListenConfig is the gRPC ingest listener.
type VectorListenConfig struct {
	Address           string        `mapstructure:"address"`
	AdmissionDeadline time.Duration `mapstructure:"admission_deadline"`
	QueueSize         int           `mapstructure:"queue_size"`
	DrainDeadline     time.Duration `mapstructure:"drain_deadline"`
}

// OutputConfig configures optional outbound finding delivery.
type OutputConfig struct {
	Vector  VectorOutputConfig  `mapstructure:"vector"`
	Webhook WebhookOutputConfig `mapstructure:"webhook"`
}

// VectorOutputConfig forwards findings to a downstream Vector over gRPC.
type VectorOutputConfig struct {
	URL string `mapstructure:"url"`
}

// WebhookOutputConfig posts findings to an HTTP endpoint, one per request.
type WebhookOutputConfig struct {
	URL string `mapstructure:"url"`
}

// StorageConfig configures the Parquet writer pool.
type StorageConfig struct {
	Schema    string        `mapstructure:"schema"`
	Path      string        `mapstructure:"path"`
	MaxRows   int           `mapstructure:"max_rows"`
	MaxBytes  int64         `mapstructure:"max_bytes"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	DateGrain time.Duration `mapstructure:"date_grain"`
}

// Enabled reports whether a storage path is configured.
func (s StorageConfig) Enabled() bool { return s.Path != "" }

// APIConfig configures the management HTTP server.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	DataDir string `mapstructure:"data_dir"`
	UIPath  string `mapstructure:"ui_path"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the optional file path plus STRIEM_
// environment variables over the defaults.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRIEM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.vector.address", "127.0.0.1:6000")
	v.SetDefault("input.vector.admission_deadline", "5s")
	v.SetDefault("input.vector.queue_size", 256)
	v.SetDefault("input.vector.drain_deadline", "30s")

	v.SetDefault("storage.max_rows", 100000)
	v.SetDefault("storage.max_bytes", 128*1024*1024)
	v.SetDefault("storage.max_age", "5m")
	v.SetDefault("storage.date_grain", "24h")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.address", "127.0.0.1:8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations StrIEM cannot run with.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Input.Vector.Address); err != nil {
		return fmt.Errorf("%w: input.vector.address %q: %v", ErrConfig, c.Input.Vector.Address, err)
	}
	if c.API.Enabled {
		if _, _, err := net.SplitHostPort(c.API.Address); err != nil {
			return fmt.Errorf("%w: api.address %q: %v", ErrConfig, c.API.Address, err)
		}
	}
	if c.Storage.Enabled() && c.Storage.Schema == "" {
		return fmt.Errorf("%w: storage.path is set but storage.schema is not", ErrConfig)
	}
	if c.Output.Webhook.URL != "" {
		if _, err := url.ParseRequestURI(c.Output.Webhook.URL); err != nil {
			return fmt.Errorf("%w: output.webhook.url %q: %v", ErrConfig, c.Output.Webhook.URL, err)
		}
	}
	if !c.Storage.Enabled() && c.Output.Vector.URL == "" && c.Output.Webhook.URL == "" && !c.API.Enabled {
		return fmt.Errorf("%w: no storage, output, or API configured; StrIEM cannot run", ErrConfig)
	}
	return nil
}
