package tui

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/aristath/overnight/internal/config"
)

// Settings holds the form field bindings for init (strings for Huh).
type Settings struct {
	Provider    string
	Command     string
	Model       string
	Lanes       string
	LaneTimeout string
	MaxRounds   string
	Push        bool
}

// SettingsFrom reads the editable fields out of cfg.
func SettingsFrom(cfg *config.Config) Settings {
	agent := cfg.Agents[cfg.Agent]
	return Settings{
		Provider:    agent.Provider,
		Command:     cfg.Providers[agent.Provider].Command,
		Model:       agent.Model,
		Lanes:       strconv.Itoa(cfg.Lanes),
		LaneTimeout: cfg.LaneTimeout.Std().String(),
		MaxRounds:   strconv.Itoa(cfg.MaxRounds),
		Push:        cfg.PushEnabled(),
	}
}

// SettingsForm builds the interactive form bound to s.
func SettingsForm(cfg *config.Config, s *Settings) *huh.Form {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	options := make([]huh.Option[string], 0, len(names))
	for _, name := range names {
		options = append(options, huh.NewOption(name, name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("provider").
				Title("Agent CLI").
				Options(options...).
				Value(&s.Provider),

			huh.NewInput().
				Key("command").
				Title("Command").
				Description("Binary to run; empty uses the provider default").
				Value(&s.Command),

			huh.NewInput().
				Key("model").
				Title("Model").
				Description("Empty uses the agent CLI default").
				Value(&s.Model),
		).Title("Worker"),

		huh.NewGroup(
			huh.NewInput().
				Key("lanes").
				Title("Parallel lanes").
				Value(&s.Lanes).
				Validate(positiveInt),

			huh.NewInput().
				Key("laneTimeout").
				Title("Lane timeout").
				Value(&s.LaneTimeout).
				Placeholder("45m").
				Validate(validDuration),

			huh.NewInput().
				Key("maxRounds").
				Title("Max rounds (--continuous)").
				Value(&s.MaxRounds).
				Validate(positiveInt),

			huh.NewConfirm().
				Key("push").
				Title("Push checkpoints to the remote?").
				Value(&s.Push),
		).Title("Run"),
	)
}

// RunSettings shows the form in the terminal and applies the answers to cfg.
func RunSettings(cfg *config.Config) error {
	s := SettingsFrom(cfg)
	if err := SettingsForm(cfg, &s).Run(); err != nil {
		return fmt.Errorf("settings form: %w", err)
	}
	return ApplySettings(cfg, s)
}

// ApplySettings copies form values back to the config struct.
func ApplySettings(cfg *config.Config, s Settings) error {
	provider, ok := cfg.Providers[s.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", s.Provider)
	}
	if s.Command != "" {
		provider.Command = s.Command
		cfg.Providers[s.Provider] = provider
	}

	agent := cfg.Agents[cfg.Agent]
	agent.Provider = s.Provider
	agent.Model = s.Model
	cfg.Agents[cfg.Agent] = agent

	lanes, err := strconv.Atoi(s.Lanes)
	if err != nil || lanes < 1 {
		return fmt.Errorf("invalid lane count %q", s.Lanes)
	}
	cfg.Lanes = lanes

	rounds, err := strconv.Atoi(s.MaxRounds)
	if err != nil || rounds < 1 {
		return fmt.Errorf("invalid max rounds %q", s.MaxRounds)
	}
	cfg.MaxRounds = rounds

	timeout, err := time.ParseDuration(s.LaneTimeout)
	if err != nil || timeout <= 0 {
		return fmt.Errorf("invalid lane timeout %q", s.LaneTimeout)
	}
	cfg.LaneTimeout = config.Duration(timeout)

	push := s.Push
	cfg.Push = &push
	return nil
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func validDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a duration like 45m or 1h30m")
	}
	return nil
}
