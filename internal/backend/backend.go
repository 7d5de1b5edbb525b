package backend

import (
	"context"
	"fmt"
)

// Handle observes and controls one started worker process.
type Handle interface {
	// PID returns the operating system process id.
	PID() int

	// Done is closed once the process has exited and its output is flushed.
	Done() <-chan struct{}

	// ExitCode is valid after Done is closed. -1 means killed by a signal.
	ExitCode() int

	// Kill terminates the process and its children. Killing an exited process is not an error.
	Kill() error
}

// Launcher starts isolated worker processes. Start must return as soon as the
// process is running; the worker outlives the call.
type Launcher interface {
	Start(ctx context.Context, spec Spec) (Handle, error)

	// Name returns the backend type, used in logs and run history.
	Name() string
}

// New creates a new launcher based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate adapter.
func New(cfg Config, pm *ProcessManager) (Launcher, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeAdapter(cfg, pm), nil
	case "codex":
		return NewCodexAdapter(cfg, pm), nil
	case "goose":
		return NewGooseAdapter(cfg, pm), nil
	case "command":
		return NewCommandAdapter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// Binary returns the executable a config resolves to.
func Binary(cfg Config) string {
	if cfg.Command != "" {
		return cfg.Command
	}
	return cfg.Type
}
