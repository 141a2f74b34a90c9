// Package config loads the engine's top-level YAML configuration, with
// environment-variable overrides layered on top the same way the
// teacher's own config package does.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"qminer/internal/geoindex"
)

// Config holds every setting the engine needs at startup.
type Config struct {
	Name string `yaml:"name"`

	DataDir string `yaml:"data_dir"`
	Mode    string `yaml:"mode"` // create | open | readonly

	CacheSizeBytes int64   `yaml:"cache_size_bytes"`
	GeoPrecision   float64 `yaml:"geo_precision"`

	VocabRangeOnMissing string `yaml:"vocab_range_on_missing"` // error | clip

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls internal/logging.Initialize.
type LoggingConfig struct {
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the configuration used when no file is found and
// no override is set.
func DefaultConfig() *Config {
	return &Config{
		Name:                "qminer",
		DataDir:             "data/qminer",
		Mode:                "open",
		CacheSizeBytes:      64 << 20,
		GeoPrecision:        geoindex.DefaultPrecision,
		VocabRangeOnMissing: "error",
		Logging: LoggingConfig{
			Dir:   "data/qminer/logs",
			Level: "info",
		},
	}
}

// Load reads path as YAML over DefaultConfig, then applies environment
// overrides. A missing file is not an error -- it just means defaults
// (plus any environment overrides) are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes cfg to path as YAML, creating its directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("QMINER_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if mode := os.Getenv("QMINER_MODE"); mode != "" {
		c.Mode = mode
	}
	if level := os.Getenv("QMINER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("QMINER_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
	}
	if policy := os.Getenv("QMINER_VOCAB_RANGE_ON_MISSING"); policy != "" {
		c.VocabRangeOnMissing = policy
	}
}
