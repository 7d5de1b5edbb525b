package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/overnight/internal/backend"
	"github.com/aristath/overnight/internal/config"
	"github.com/aristath/overnight/internal/loop"
)

type loopOptions struct {
	project    string
	iterations int
	delay      time.Duration
	timeout    time.Duration
}

func newLoopCmd() *cobra.Command {
	var opts loopOptions
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run one agent repeatedly against PROMPT.md, fresh context every iteration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.project, "project", "p", ".", "path to the project (must contain PROMPT.md)")
	f.IntVarP(&opts.iterations, "max", "m", loop.DefaultIterations, "number of iterations")
	f.DurationVarP(&opts.delay, "delay", "d", loop.DefaultDelay, "pause between iterations")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-iteration timeout (default: lane timeout from config)")
	return cmd
}

func runLoop(cmd *cobra.Command, opts loopOptions) error {
	projectDir, err := resolveProject(opts.project)
	if err != nil {
		return fatal(err)
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return fatal(fmt.Errorf("project path does not exist: %s", projectDir))
	}

	cfg, err := config.LoadDefault(projectDir)
	if err != nil {
		return fatal(err)
	}
	backendCfg, err := cfg.Backend()
	if err != nil {
		return fatal(err)
	}
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = cfg.LaneTimeout.Std()
	}

	logDir := filepath.Join(stateDir(projectDir), "loops", newRunID(time.Now()))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fatal(fmt.Errorf("creating loop directory: %w", err))
	}
	restoreLog, err := setupLogging(logDir, false)
	if err != nil {
		return fatal(err)
	}
	defer restoreLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := backend.NewProcessManager()
	defer func() {
		if err := pm.KillAll(); err != nil {
			log.Printf("ERROR: killing agent: %v", err)
		}
	}()

	agent, err := backend.New(backendCfg, pm)
	if err != nil {
		return fatal(err)
	}

	log.Printf("Project: %s", projectDir)
	log.Printf("Max iterations: %d, delay between: %s, timeout: %s", opts.iterations, opts.delay, timeout)

	if _, err := loop.Run(ctx, agent, loop.Config{
		ProjectDir: projectDir,
		LogDir:     logDir,
		Iterations: opts.iterations,
		Delay:      opts.delay,
		Timeout:    timeout,
	}); err != nil {
		return fatal(err)
	}
	return nil
}
