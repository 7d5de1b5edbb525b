package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Command string   `json:"command"`        // CLI binary name (e.g., "claude", "codex", "goose")
	Args    []string `json:"args,omitempty"` // Default args appended to every invocation
	Type    string   `json:"type"`           // Backend type matching backend.Config.Type: "claude", "codex", "goose", "command"
	Env     []string `json:"env,omitempty"`  // Extra KEY=VALUE entries for the worker environment
}

// AgentConfig defines a worker role that uses a specific provider and model.
type AgentConfig struct {
	Provider    string   `json:"provider"`               // Key into Providers map
	Model       string   `json:"model,omitempty"`        // Model override (e.g., "opus", "gpt-5")
	LLMProvider string   `json:"llm_provider,omitempty"` // Goose only (e.g., "ollama")
	Args        []string `json:"args,omitempty"`         // Appended after the provider args
}

// Duration is a time.Duration written as a Go duration string ("45m").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"45m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration.
type Config struct {
	Agent     string                    `json:"agent"` // Key into Agents used by every lane
	Providers map[string]ProviderConfig `json:"providers"`
	Agents    map[string]AgentConfig    `json:"agents"`

	Ledger       string   `json:"ledger,omitempty"` // Relative to the project directory
	Lanes        int      `json:"lanes,omitempty"`
	MaxRounds    int      `json:"max_rounds,omitempty"`
	LaneTimeout  Duration `json:"lane_timeout,omitempty"`
	RetryBudget  int      `json:"retry_budget,omitempty"`
	RoundDelay   Duration `json:"round_delay,omitempty"`
	PollInterval Duration `json:"poll_interval,omitempty"`

	Push             *bool    `json:"push,omitempty"`
	Remote           string   `json:"remote,omitempty"`
	MessagePrefix    string   `json:"message_prefix,omitempty"`
	BreakerThreshold int      `json:"breaker_threshold,omitempty"`
	BreakerTimeout   Duration `json:"breaker_timeout,omitempty"`
}

// PushEnabled reports whether checkpoints are pushed. Unset means true.
func (c *Config) PushEnabled() bool {
	return c.Push == nil || *c.Push
}
