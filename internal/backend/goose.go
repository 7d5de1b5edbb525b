package backend

import (
	"context"
)

// GooseAdapter launches Goose with the instruction file passed by path.
// Goose supports local LLM providers (Ollama, LM Studio, llama.cpp) via --provider and --model flags.
type GooseAdapter struct {
	command  string
	model    string
	provider string
	args     []string
	env      []string
	procMgr  *ProcessManager
}

// NewGooseAdapter creates a new Goose backend adapter.
func NewGooseAdapter(cfg Config, procMgr *ProcessManager) *GooseAdapter {
	return &GooseAdapter{
		command:  Binary(Config{Type: "goose", Command: cfg.Command}),
		model:    cfg.Model,
		provider: cfg.Provider,
		args:     cfg.Args,
		env:      cfg.Env,
		procMgr:  procMgr,
	}
}

func (g *GooseAdapter) Start(ctx context.Context, spec Spec) (Handle, error) {
	return startProcess(ctx, g.procMgr, g.invocation(spec), spec)
}

func (g *GooseAdapter) Name() string {
	return "goose"
}

func (g *GooseAdapter) invocation(spec Spec) invocation {
	args := []string{"run", "--instructions", spec.InstructionsPath}

	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}

	// Local LLM support
	if g.provider != "" {
		args = append(args, "--provider", g.provider)
	}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}
	args = append(args, g.args...)

	return invocation{
		name: g.command,
		args: args,
		env:  g.env,
	}
}
