// Package config provides configuration loading and management for spmglobal.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spmglobal/pkg/global"
	"spmglobal/pkg/logging"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Estimation parameters
	Estimation struct {
		// ThresholdDivisor divides the volume mean to give the object threshold
		ThresholdDivisor float64 `yaml:"thresholdDivisor"`

		// CacheBudgetBytes lets pass two reuse pass-one slices when the
		// whole volume fits; zero always re-reads
		CacheBudgetBytes int64 `yaml:"cacheBudgetBytes"`
	} `yaml:"estimation"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// MaskDir, when set, receives one object-mask image per z slice
		MaskDir string `yaml:"maskDir"`
	} `yaml:"output"`

	Log logging.LogConfig `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Estimation.ThresholdDivisor = global.DefaultThresholdDivisor
	cfg.Estimation.CacheBudgetBytes = 0

	cfg.Output.Verbose = false
	cfg.Output.MaskDir = ""

	cfg.Log.MaxSize = 100
	cfg.Log.MaxAge = 30

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Estimation.ThresholdDivisor <= 0 {
		return fmt.Errorf("thresholdDivisor must be positive, got %v", c.Estimation.ThresholdDivisor)
	}
	if c.Estimation.CacheBudgetBytes < 0 {
		return fmt.Errorf("cacheBudgetBytes must not be negative, got %d", c.Estimation.CacheBudgetBytes)
	}
	return nil
}

// Params converts the estimation section to estimator parameters
func (c *Config) Params() global.Params {
	return global.Params{
		ThresholdDivisor: c.Estimation.ThresholdDivisor,
		CacheBudget:      c.Estimation.CacheBudgetBytes,
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
