package backend

import (
	"context"
	"errors"
	"strings"
)

// ErrNoCommand is returned when a "command" backend has nothing to run.
var ErrNoCommand = errors.New("command backend requires a command")

// CommandAdapter runs an arbitrary program as a worker. Placeholders in the
// arguments are expanded per worker:
//
//	{instructions}  path to WORKER.md
//	{workdir}       project directory
//	{lane_dir}      lane output directory
//	{name}          worker id
type CommandAdapter struct {
	command string
	args    []string
	env     []string
	procMgr *ProcessManager
}

// NewCommandAdapter creates a generic command backend.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CommandAdapter, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, ErrNoCommand
	}
	return &CommandAdapter{
		command: cfg.Command,
		args:    cfg.Args,
		env:     cfg.Env,
		procMgr: procMgr,
	}, nil
}

func (c *CommandAdapter) Start(ctx context.Context, spec Spec) (Handle, error) {
	return startProcess(ctx, c.procMgr, c.invocation(spec), spec)
}

func (c *CommandAdapter) Name() string {
	return "command"
}

func (c *CommandAdapter) invocation(spec Spec) invocation {
	r := strings.NewReplacer(
		"{instructions}", spec.InstructionsPath,
		"{workdir}", spec.WorkDir,
		"{lane_dir}", spec.LaneDir,
		"{name}", spec.Name,
	)

	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = r.Replace(arg)
	}

	return invocation{
		name: r.Replace(c.command),
		args: args,
		env:  c.env,
	}
}
