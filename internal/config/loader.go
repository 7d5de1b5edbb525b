package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/aristath/overnight/internal/backend"
)

// ModelEnv overrides the model of the selected agent.
const ModelEnv = "OVERNIGHT_MODEL"

// StateDir is the per-project directory holding config, history and run artifacts.
const StateDir = ".overnight"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// GlobalPath returns $XDG_CONFIG_HOME/overnight/config.json.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "overnight", "config.json")
}

// ProjectPath returns <projectDir>/.overnight/config.json.
func ProjectPath(projectDir string) string {
	return filepath.Join(projectDir, StateDir, "config.json")
}

// LoadDefault loads configuration from conventional paths and applies
// environment overrides.
func LoadDefault(projectDir string) (*Config, error) {
	cfg, err := Load(GlobalPath(), ProjectPath(projectDir))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// ApplyEnv applies environment overrides using lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	model, ok := lookup(ModelEnv)
	if !ok || model == "" {
		return
	}
	agent := cfg.Agents[cfg.Agent]
	agent.Model = model
	cfg.Agents[cfg.Agent] = agent
}

// Backend resolves the selected agent and its provider into a backend config.
func (c *Config) Backend() (backend.Config, error) {
	agent, ok := c.Agents[c.Agent]
	if !ok {
		return backend.Config{}, fmt.Errorf("agent %q is not configured", c.Agent)
	}
	provider, ok := c.Providers[agent.Provider]
	if !ok {
		return backend.Config{}, fmt.Errorf("agent %q uses unknown provider %q", c.Agent, agent.Provider)
	}

	args := append([]string(nil), provider.Args...)
	args = append(args, agent.Args...)
	return backend.Config{
		Type:     provider.Type,
		Command:  provider.Command,
		Args:     args,
		Model:    agent.Model,
		Provider: agent.LLMProvider,
		Env:      provider.Env,
	}, nil
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Parse JSON
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	// Merge providers
	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}

	// Merge agents
	for key, agent := range loaded.Agents {
		base.Agents[key] = agent
	}

	mergeScalars(base, &loaded)
	return nil
}

// mergeScalars copies every setting that is present (non-zero) in loaded.
func mergeScalars(base, loaded *Config) {
	if loaded.Agent != "" {
		base.Agent = loaded.Agent
	}
	if loaded.Ledger != "" {
		base.Ledger = loaded.Ledger
	}
	if loaded.Lanes > 0 {
		base.Lanes = loaded.Lanes
	}
	if loaded.MaxRounds > 0 {
		base.MaxRounds = loaded.MaxRounds
	}
	if loaded.LaneTimeout > 0 {
		base.LaneTimeout = loaded.LaneTimeout
	}
	if loaded.RetryBudget > 0 {
		base.RetryBudget = loaded.RetryBudget
	}
	if loaded.RoundDelay > 0 {
		base.RoundDelay = loaded.RoundDelay
	}
	if loaded.PollInterval > 0 {
		base.PollInterval = loaded.PollInterval
	}
	if loaded.Push != nil {
		push := *loaded.Push
		base.Push = &push
	}
	if loaded.Remote != "" {
		base.Remote = loaded.Remote
	}
	if loaded.MessagePrefix != "" {
		base.MessagePrefix = loaded.MessagePrefix
	}
	if loaded.BreakerThreshold > 0 {
		base.BreakerThreshold = loaded.BreakerThreshold
	}
	if loaded.BreakerTimeout > 0 {
		base.BreakerTimeout = loaded.BreakerTimeout
	}
}
