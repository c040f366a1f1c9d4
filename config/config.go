// Package config loads chatwire configuration from a YAML file, merges
// it over built-in defaults, and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the client configuration.
type Config struct {
	// APIKey authenticates against the endpoint. Required.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL is the OpenAI-compatible endpoint. Empty means the
	// official OpenAI API.
	BaseURL string `yaml:"base_url,omitempty"`

	// Model is the default model id for calls that don't override it.
	Model string `yaml:"model,omitempty"`

	// System is the default system prompt for new sessions.
	System string `yaml:"system_prompt,omitempty"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// TimeoutSeconds bounds a whole non-streaming call, retries
	// included. Zero means no deadline.
	TimeoutSeconds int `yaml:"timeout,omitempty"`

	// TranscriptDB is a sqlite path for transcript persistence.
	// Empty disables it.
	TranscriptDB string `yaml:"transcript_db,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Model:      "gpt-4o-mini",
		MaxRetries: 3,
	}
}

// GetConfigPath returns the default config file location,
// ~/.config/chatwire/config.yaml.
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "chatwire", "config.yaml")
}

// Load reads the config file at path, merges it over the defaults, and
// applies environment overrides. A missing file is not an error; the
// defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: user-specified config path
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (set it in the config file or via OPENAI_API_KEY)")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// applyEnvOverrides layers environment variables on top of the merged
// config. The OPENAI_* names match what other tooling already exports.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("CHATWIRE_SYSTEM_PROMPT"); v != "" {
		cfg.System = v
	}
	if v := os.Getenv("CHATWIRE_TRANSCRIPT_DB"); v != "" {
		cfg.TranscriptDB = v
	}
	if v := os.Getenv("CHATWIRE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
}
