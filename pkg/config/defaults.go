package config

import (
	"runtime"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyControlDefaults(&cfg.Control)
	applyWorkersDefaults(&cfg.Workers)
	applyUnloadDefaults(&cfg.Unload)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.Backing.S3 == nil {
		cfg.Backing.S3 = make(map[string]any)
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyControlDefaults(cfg *ControlConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueTimeout == 0 {
		cfg.QueueTimeout = 5 * time.Second
	}
	// MaxConnections and MaxQueuedRequests default to 0 (unlimited).
}

func applyWorkersDefaults(cfg *WorkersConfig) {
	if cfg.Count == 0 {
		cfg.Count = 12
	}
}

func applyUnloadDefaults(cfg *UnloadConfig) {
	// IntervalHours defaults to 0: the unload job is disabled unless
	// explicitly configured.
	if cfg.StartDelayMinutes == 0 {
		cfg.StartDelayMinutes = 10
	}
	if cfg.AgeMinutes == 0 {
		cfg.AgeMinutes = 60
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}
