package config

import "time"

// DefaultConfig returns the default configuration with built-in providers and agents.
func DefaultConfig() *Config {
	push := true
	return &Config{
		Agent: "worker",
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
			"codex": {
				Command: "codex",
				Type:    "codex",
			},
			"goose": {
				Command: "goose",
				Type:    "goose",
			},
		},
		Agents: map[string]AgentConfig{
			"worker": {
				Provider: "claude",
			},
		},
		Ledger:           "TASKS.md",
		Lanes:            1,
		MaxRounds:        50,
		LaneTimeout:      Duration(45 * time.Minute),
		RetryBudget:      2,
		RoundDelay:       Duration(30 * time.Second),
		PollInterval:     Duration(10 * time.Second),
		Push:             &push,
		Remote:           "origin",
		MessagePrefix:    "overnight",
		BreakerThreshold: 3,
		BreakerTimeout:   Duration(30 * time.Minute),
	}
}
