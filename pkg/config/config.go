package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
//
// It is reloaded from disk for every mount attempt rather than cached for
// the life of the process, so edits take effect for new mounts without a
// daemon restart.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SOURCEFS_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Control configures the control RPC server.
	Control ControlConfig `mapstructure:"control"`

	// Workers configures the shared mount worker pool.
	Workers WorkersConfig `mapstructure:"workers"`

	// Unload configures the periodic idle-resource reclamation job.
	Unload UnloadConfig `mapstructure:"unload"`

	// Metrics configures the optional Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Backing holds per-type backing store options.
	Backing BackingConfig `mapstructure:"backing"`

	// LocalStore configures the shared local object cache.
	LocalStore LocalStoreConfig `mapstructure:"local_store"`

	// Debug runs filesystem workers in debug mode.
	Debug bool `mapstructure:"debug"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// ControlConfig configures the control RPC server.
type ControlConfig struct {
	// Address to listen on. Empty means the default unix socket at
	// <dataDir>/socket. A bare port number means localhost TCP, host:port
	// means TCP on that address; anything else is taken as a unix socket
	// path.
	Address string `mapstructure:"address"`

	// Workers is the number of request worker goroutines.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// MaxConnections limits concurrent client connections. 0 = unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxQueuedRequests bounds the request queue. 0 = unlimited.
	MaxQueuedRequests int `mapstructure:"max_queued_requests" validate:"min=0"`

	// QueueTimeoutEnabled drops requests that waited in the queue longer
	// than QueueTimeout instead of processing them late.
	QueueTimeoutEnabled bool `mapstructure:"queue_timeout_enabled"`

	// QueueTimeout is the maximum queueing delay when the timeout is enabled.
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`

	// MinCompressBytes is the minimum response size that gets compressed.
	// 0 disables response compression.
	MinCompressBytes int `mapstructure:"min_compress_bytes" validate:"min=0"`

	// RequestsPerSecond caps the sustained request admission rate.
	// 0 = unlimited.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the admission burst size when rate limiting is enabled.
	Burst uint `mapstructure:"burst"`
}

// WorkersConfig configures the shared mount worker pool.
type WorkersConfig struct {
	// Count is the number of worker goroutines shared by all mounts.
	Count int `mapstructure:"count" validate:"min=0"`
}

// UnloadConfig configures the periodic inode unload job.
type UnloadConfig struct {
	// IntervalHours is the frequency of unload runs. 0 disables the job.
	IntervalHours int64 `mapstructure:"interval_hours" validate:"min=0"`

	// StartDelayMinutes delays the first run after startup.
	StartDelayMinutes int64 `mapstructure:"start_delay_minutes" validate:"min=0"`

	// AgeMinutes is the minimum idle age of a resource to be unloaded.
	AgeMinutes int64 `mapstructure:"age_minutes" validate:"min=0"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on.
	Enabled bool `mapstructure:"enabled"`

	// Port for the metrics HTTP server.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// BackingConfig holds per-type backing store options, decoded by the store
// constructors themselves.
type BackingConfig struct {
	// S3 options for "s3" repository sources.
	S3 map[string]any `mapstructure:"s3"`
}

// LocalStoreConfig configures the shared local object cache.
type LocalStoreConfig struct {
	// Path of the cache database. Empty means <dataDir>/localstore.
	Path string `mapstructure:"path"`
}

// Load loads the service configuration from file, environment, and defaults.
//
// A missing config file is not an error; defaults apply. A present but
// malformed file is.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SOURCEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
