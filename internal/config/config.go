// Package config loads cascade-memory's configuration: YAML defaults, then
// environment-variable overrides, with an optional fsnotify-driven watcher
// that reloads the file and reapplies the logging settings while the process
// is running.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/For-Sunny/cascade-memory/internal/logging"
)

// StorageConfig configures the dual-write storage engine (§4.1-4.2).
type StorageConfig struct {
	DurableRoot string `yaml:"durable_root" json:"durable_root"`
	CacheRoot   string `yaml:"cache_root" json:"cache_root"`
}

// DecayConfig configures the decay engine (§4.5).
type DecayConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	BaseRatePerDay    float64 `yaml:"base_rate_per_day" json:"base_rate_per_day"`
	VisibilityThreshold float64 `yaml:"visibility_threshold" json:"visibility_threshold"`
	ImmortalThreshold float64 `yaml:"immortal_threshold" json:"immortal_threshold"`
	SweepIntervalMin  int     `yaml:"sweep_interval_min" json:"sweep_interval_min"`
	SweepBatchSize    int     `yaml:"sweep_batch_size" json:"sweep_batch_size"`
}

// RateLimitConfig configures the sliding-window admission control (§4.6).
type RateLimitConfig struct {
	WindowSeconds int            `yaml:"window_seconds" json:"window_seconds"`
	GlobalCap     int            `yaml:"global_cap" json:"global_cap"`
	OpCaps        map[string]int `yaml:"op_caps" json:"op_caps"`
}

// LoggingConfig configures the structured logger (A1) and audit buffer (A2).
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level"`
	Format     string          `yaml:"format" json:"format"` // "text" or "json"
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Categories map[string]bool `yaml:"categories" json:"categories"`
	AuditPath  string          `yaml:"audit_path" json:"audit_path"`
}

// Config holds all cascade-memory configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Decay     DecayConfig     `yaml:"decay" json:"decay"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Debug     bool            `yaml:"debug" json:"debug"` // include sanitized debug fields in error responses
}

// DefaultConfig returns cascade-memory's default configuration.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Storage: StorageConfig{
			DurableRoot: filepath.Join(home, ".cascade-memory", "data"),
		},
		Decay: DecayConfig{
			Enabled:             true,
			BaseRatePerDay:      0.01,
			VisibilityThreshold: 0.1,
			ImmortalThreshold:   0.9,
			SweepIntervalMin:    60,
			SweepBatchSize:      1000,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			GlobalCap:     300,
			OpCaps: map[string]int{
				"remember":      60,
				"save_to_layer": 60,
				"recall":        120,
				"query_layer":   100,
				"get_status":    30,
				"get_stats":     30,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads YAML configuration from path, falling back to defaults if the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back out as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// applyEnvOverrides binds the §6 "Configuration surface (environment)" table.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CASCADE_DURABLE_ROOT"); v != "" {
		c.Storage.DurableRoot = v
	}
	if v := os.Getenv("CASCADE_CACHE_ROOT"); v != "" {
		c.Storage.CacheRoot = v
	}
	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CASCADE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("CASCADE_AUDIT_PATH"); v != "" {
		c.Logging.AuditPath = v
	}
	if v := os.Getenv("CASCADE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
			c.Logging.DebugMode = b
		}
	}
	if v := os.Getenv("CASCADE_DECAY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Decay.Enabled = b
		}
	}
	if v := os.Getenv("CASCADE_DECAY_BASE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Decay.BaseRatePerDay = f
		}
	}
	if v := os.Getenv("CASCADE_DECAY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Decay.VisibilityThreshold = f
		}
	}
	if v := os.Getenv("CASCADE_DECAY_IMMORTAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Decay.ImmortalThreshold = f
		}
	}
	if v := os.Getenv("CASCADE_DECAY_SWEEP_INTERVAL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Decay.SweepIntervalMin = n
		}
	}
	if v := os.Getenv("CASCADE_DECAY_SWEEP_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Decay.SweepBatchSize = n
		}
	}
}

// SweepInterval returns the configured sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	if c.Decay.SweepIntervalMin <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.Decay.SweepIntervalMin) * time.Minute
}

// LoggingSettings adapts LoggingConfig to the logging package's Settings shape.
func (c *Config) LoggingSettings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.Format == "json",
		Categories: c.Logging.Categories,
	}
}
