// Package config loads the coalescedemo CLI's configuration: a YAML
// file merged with environment variable overrides and struct-level
// defaults, trimmed to the handful of knobs a Coordinator demo
// actually needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the coalescedemo CLI's configuration surface.
type Config struct {
	Window           time.Duration `yaml:"window"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
	BufferCapacity   int           `yaml:"buffer_capacity"`
	RemoveDuplicates bool          `yaml:"remove_duplicates"`
	Workers          int           `yaml:"workers"`
	LogLevel         string        `yaml:"log_level"`
}

// LoadConfig loads configuration from an optional YAML file, then
// applies environment variable overrides, then fills in defaults for
// anything still unset, in that file -> env overrides -> defaults
// order.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{RemoveDuplicates: true}

	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to load %s: %w", configFile, err)
		}
	}

	applyEnvironmentOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("COALESCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Window = d
		}
	}
	if v := os.Getenv("COALESCE_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBatchSize = n
		}
	}
	if v := os.Getenv("COALESCE_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BufferCapacity = n
		}
	}
	if v := os.Getenv("COALESCE_REMOVE_DUPLICATES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RemoveDuplicates = b
		}
	}
	if v := os.Getenv("COALESCE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("COALESCE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Window <= 0 {
		cfg.Window = 20 * time.Millisecond
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 8192
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
