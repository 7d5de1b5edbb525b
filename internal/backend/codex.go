package backend

import (
	"context"
)

// CodexAdapter launches the Codex CLI in exec mode with the prompt read from stdin ("-").
type CodexAdapter struct {
	command string
	model   string
	args    []string
	env     []string
	procMgr *ProcessManager
}

// NewCodexAdapter creates a new Codex backend adapter.
func NewCodexAdapter(cfg Config, procMgr *ProcessManager) *CodexAdapter {
	return &CodexAdapter{
		command: Binary(Config{Type: "codex", Command: cfg.Command}),
		model:   cfg.Model,
		args:    cfg.Args,
		env:     cfg.Env,
		procMgr: procMgr,
	}
}

func (c *CodexAdapter) Start(ctx context.Context, spec Spec) (Handle, error) {
	return startProcess(ctx, c.procMgr, c.invocation(spec), spec)
}

func (c *CodexAdapter) Name() string {
	return "codex"
}

func (c *CodexAdapter) invocation(spec Spec) invocation {
	args := []string{"exec", "--full-auto"}

	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, c.args...)
	// Prompt comes from stdin
	args = append(args, "-")

	return invocation{
		name:  c.command,
		args:  args,
		stdin: spec.InstructionsPath,
		env:   c.env,
	}
}
