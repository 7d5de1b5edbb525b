package backend

import (
	"context"

	"github.com/google/uuid"
)

// ClaudeAdapter launches Claude Code in non-interactive print mode.
// Instructions are fed on stdin so long payloads never hit argv limits.
type ClaudeAdapter struct {
	command string
	model   string
	args    []string
	env     []string
	procMgr *ProcessManager
}

// NewClaudeAdapter creates a new Claude Code backend adapter.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) *ClaudeAdapter {
	return &ClaudeAdapter{
		command: Binary(Config{Type: "claude", Command: cfg.Command}),
		model:   cfg.Model,
		args:    cfg.Args,
		env:     cfg.Env,
		procMgr: procMgr,
	}
}

// Start launches one claude worker. Every worker gets a fresh session.
func (a *ClaudeAdapter) Start(ctx context.Context, spec Spec) (Handle, error) {
	return startProcess(ctx, a.procMgr, a.invocation(spec, uuid.NewString()), spec)
}

func (a *ClaudeAdapter) Name() string {
	return "claude"
}

// invocation constructs the command line for the claude CLI.
func (a *ClaudeAdapter) invocation(spec Spec, sessionID string) invocation {
	args := []string{"-p", "--dangerously-skip-permissions", "--session-id", sessionID}

	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	args = append(args, a.args...)

	return invocation{
		name:  a.command,
		args:  args,
		stdin: spec.InstructionsPath,
		env:   a.env,
	}
}
