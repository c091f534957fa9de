// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/storage"
)

// Config represents the application configuration.
type Config struct {
	Debate  DebateConfig  `yaml:"debate"`
	LLM     LLMConfig     `yaml:"llm"`
	Server  ServerConfig  `yaml:"server,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
}

// DebateConfig holds the default termination policy for new debates.
type DebateConfig struct {
	MaxRounds          int     `yaml:"max_rounds"`
	ConsensusThreshold float64 `yaml:"consensus_threshold"`
	StabilityThreshold float64 `yaml:"stability_threshold"`
	MinAgents          int     `yaml:"min_agents"`
}

// LLMConfig holds settings for the hosted text-generation backend.
type LLMConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key,omitempty"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// ServerConfig holds server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Debate: DebateConfig{
			MaxRounds:          core.DefaultMaxRounds,
			ConsensusThreshold: core.DefaultConsensusThreshold,
			StabilityThreshold: core.DefaultStabilityThreshold,
			MinAgents:          core.DefaultMinAgents,
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com",
			DefaultModel: "gpt-4o-mini",
			Timeout:      60 * time.Second,
		},
		Server: ServerConfig{
			Port: 8184,
		},
		Storage: StorageConfig{
			Path: storage.DefaultDBPath(),
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom loads configuration from a specific path. A missing file is not an
// error; defaults apply. A .env file in the working directory overrides both.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file, proceed with defaults
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if env, err := LoadEnv(".env"); err == nil {
		ApplyEnvOverrides(cfg, env)
	}

	return cfg, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigPath())
}

// SaveTo saves the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// DebatePolicy converts the configured defaults into the core policy type.
func (c *Config) DebatePolicy() core.DebateConfig {
	return core.DebateConfig{
		MaxRounds:          c.Debate.MaxRounds,
		ConsensusThreshold: c.Debate.ConsensusThreshold,
		StabilityThreshold: c.Debate.StabilityThreshold,
		MinAgents:          c.Debate.MinAgents,
	}.WithDefaults()
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "consilium.yaml"
	}
	return filepath.Join(home, ".consilium", "config.yaml")
}

// GenerateExample generates an example configuration file.
func GenerateExample() string {
	return `# consilium configuration file
# Place this file at ~/.consilium/config.yaml

debate:
  max_rounds: 10            # Rounds before a forced MAX_ROUNDS termination
  consensus_threshold: 0.75 # Majority share that ends the debate
  stability_threshold: 0.05 # Confidence delta below which a stalemate is called
  min_agents: 2             # Minimum roster size to start a debate

llm:
  base_url: https://api.openai.com
  api_key: ""               # Usually set via LLM_API_KEY in .env instead
  default_model: gpt-4o-mini
  timeout: 60s

server:
  port: 8184

storage:
  path: ""                  # Empty = ~/.consilium/consilium.db
`
}
