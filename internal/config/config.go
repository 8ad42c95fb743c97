// Package config handles Travelr configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/travelr/config.yaml, /etc/travelr/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "travelr", "config.yaml"))
	}

	paths = append(paths, "/etc/travelr/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Travelr configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Places    PlacesConfig    `yaml:"places"`
	Assistant AssistantConfig `yaml:"assistant"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PlacesConfig defines the location-search collaborator settings.
type PlacesConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// AssistantConfig tunes the tool dispatch loop.
type AssistantConfig struct {
	// MaxIterations caps provider round-trips per turn (default 12).
	MaxIterations int `yaml:"max_iterations"`
	// ToolTimeoutSec bounds a single tool execution (default 30).
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
	// HistoryLimit caps prior messages loaded into the prompt (default 20).
	HistoryLimit int `yaml:"history_limit"`
}

// RateLimitConfig defines the per-user admission window.
type RateLimitConfig struct {
	// Requests admitted per window (default 5).
	Requests int `yaml:"requests"`
	// WindowSec is the fixed window length in seconds (default 60).
	WindowSec int `yaml:"window_sec"`
	// SweepSec is the stale-window purge interval in seconds (default 300).
	SweepSec int `yaml:"sweep_sec"`
}

// AuthConfig maps bearer tokens to user identities.
type AuthConfig struct {
	Tokens []APIToken `yaml:"tokens"`
}

// APIToken is one configured credential. TokenHash is a bcrypt hash of the
// bearer token, so config files never hold plaintext credentials.
type APIToken struct {
	UserID    string `yaml:"user_id"`
	TokenHash string `yaml:"token_hash"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Assistant: AssistantConfig{
			MaxIterations:  12,
			ToolTimeoutSec: 30,
			HistoryLimit:   20,
		},
		RateLimit: RateLimitConfig{
			Requests:  5,
			WindowSec: 60,
			SweepSec:  300,
		},
		DataDir: "data",
	}
}
