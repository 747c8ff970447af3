// Package config provides layered configuration loading for roxid.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the complete roxid configuration.
type Config struct {
	Run   RunConfig   `yaml:"run"`
	Tasks TasksConfig `yaml:"tasks"`
	Log   LogConfig   `yaml:"log"`
}

// RunConfig configures pipeline execution defaults.
type RunConfig struct {
	// WorkingDir is the default workspace for pipeline runs
	// (auto-detected from git if empty).
	WorkingDir string `yaml:"workingDir"`
	// Variables are caller variables applied to every run.
	Variables map[string]string `yaml:"variables"`
	// EnvFile is a dotenv file loaded before each run.
	EnvFile string `yaml:"envFile"`
}

// TasksConfig configures the task cache.
type TasksConfig struct {
	// CacheDir overrides the task cache location (empty = user cache
	// directory).
	CacheDir string `yaml:"cacheDir"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			WorkingDir: "",
			Variables:  nil,
		},
		Tasks: TasksConfig{
			CacheDir: "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one. Non-zero values in other
// take precedence; run variables merge key by key.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Run.WorkingDir != "" {
		c.Run.WorkingDir = other.Run.WorkingDir
	}
	if other.Run.EnvFile != "" {
		c.Run.EnvFile = other.Run.EnvFile
	}
	if len(other.Run.Variables) > 0 {
		if c.Run.Variables == nil {
			c.Run.Variables = map[string]string{}
		}
		for k, v := range other.Run.Variables {
			c.Run.Variables[k] = v
		}
	}

	if other.Tasks.CacheDir != "" {
		c.Tasks.CacheDir = other.Tasks.CacheDir
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
