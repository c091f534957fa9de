package config

import (
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file and returns its key-value pairs.
func LoadEnv(path string) (map[string]string, error) {
	return godotenv.Read(path)
}

// ApplyEnvOverrides updates the configuration based on environment variables.
func ApplyEnvOverrides(cfg *Config, env map[string]string) {
	if val, ok := env["SERVER_PORT"]; ok {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}

	if val, ok := env["DATABASE_PATH"]; ok {
		cfg.Storage.Path = val
	}

	if val, ok := env["LLM_BASE_URL"]; ok {
		cfg.LLM.BaseURL = val
	}
	if val, ok := env["LLM_API_KEY"]; ok {
		cfg.LLM.APIKey = val
	}
	if val, ok := env["LLM_MODEL"]; ok {
		cfg.LLM.DefaultModel = val
	}
	if val, ok := env["LLM_TIMEOUT"]; ok {
		if seconds, err := strconv.Atoi(val); err == nil {
			cfg.LLM.Timeout = time.Duration(seconds) * time.Second
		} else if duration, err := time.ParseDuration(val); err == nil {
			cfg.LLM.Timeout = duration
		}
	}

	if val, ok := env["DEBATE_MAX_ROUNDS"]; ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Debate.MaxRounds = n
		}
	}
	if val, ok := env["DEBATE_CONSENSUS_THRESHOLD"]; ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Debate.ConsensusThreshold = f
		}
	}
	if val, ok := env["DEBATE_STABILITY_THRESHOLD"]; ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Debate.StabilityThreshold = f
		}
	}
	if val, ok := env["DEBATE_MIN_AGENTS"]; ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Debate.MinAgents = n
		}
	}
}
