package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/overnight/internal/analysis"
	"github.com/aristath/overnight/internal/backend"
	"github.com/aristath/overnight/internal/checkpoint"
	"github.com/aristath/overnight/internal/clock"
	"github.com/aristath/overnight/internal/config"
	"github.com/aristath/overnight/internal/detector"
	"github.com/aristath/overnight/internal/events"
	"github.com/aristath/overnight/internal/ledger"
	"github.com/aristath/overnight/internal/persistence"
	"github.com/aristath/overnight/internal/preflight"
	"github.com/aristath/overnight/internal/scheduler"
	"github.com/aristath/overnight/internal/tui"
	"github.com/aristath/overnight/internal/worker"
)

type startOptions struct {
	project      string
	continuous   bool
	lanes        int
	maxRounds    int
	timeout      time.Duration
	retryBudget  int
	noPush       bool
	tui          bool
	resetRetries bool
}

func newStartCmd() *cobra.Command {
	var opts startOptions
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run one round, or rounds until done with --continuous",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.project, "project", "p", ".", "path to the project")
	f.BoolVarP(&opts.continuous, "continuous", "c", false, "run rounds until every task is done or the run is blocked")
	f.IntVarP(&opts.lanes, "lanes", "l", 0, "parallel workers per round (default from config)")
	f.IntVarP(&opts.maxRounds, "max-rounds", "m", 0, "round limit with --continuous (default from config)")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-lane timeout (default from config)")
	f.IntVar(&opts.retryBudget, "retry-budget", 0, "failed attempts allowed per task (default from config)")
	f.BoolVar(&opts.noPush, "no-push", false, "keep checkpoints local")
	f.BoolVar(&opts.tui, "tui", false, "show a live terminal view")
	f.BoolVar(&opts.resetRetries, "reset-retries", false, "forget failure counts from earlier runs")
	return cmd
}

// applyFlags lets explicit flags override configuration.
func applyFlags(cfg *config.Config, opts startOptions) {
	if opts.lanes > 0 {
		cfg.Lanes = opts.lanes
	}
	if opts.maxRounds > 0 {
		cfg.MaxRounds = opts.maxRounds
	}
	if !opts.continuous {
		cfg.MaxRounds = 1
	}
	if opts.timeout > 0 {
		cfg.LaneTimeout = config.Duration(opts.timeout)
	}
	if opts.retryBudget > 0 {
		cfg.RetryBudget = opts.retryBudget
	}
	if opts.noPush {
		push := false
		cfg.Push = &push
	}
}

// runResult maps a finished run to the command result.
func runResult(st scheduler.RunState, continuous bool) error {
	switch {
	case st.Phase == scheduler.Done:
		return nil
	case st.Reason == scheduler.ReasonRetriesExhausted:
		return &exitError{code: exitExhausted}
	case st.Reason == scheduler.ReasonRoundLimit && continuous:
		return &exitError{code: exitRoundLimit}
	default:
		// A single round that leaves work behind did what was asked.
		return nil
	}
}

func runStart(cmd *cobra.Command, opts startOptions) error {
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
	applyFlags(cfg, opts)

	backendCfg, err := cfg.Backend()
	if err != nil {
		return fatal(err)
	}

	state := stateDir(projectDir)
	if err := checkpoint.Ignore(state); err != nil {
		return fatal(err)
	}

	startedAt := time.Now()
	runID := newRunID(startedAt)
	runDir := filepath.Join(state, "runs", runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fatal(fmt.Errorf("creating run directory: %w", err))
	}

	restoreLog, err := setupLogging(runDir, opts.tui)
	if err != nil {
		return fatal(err)
	}
	defer restoreLog()

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := backend.NewProcessManager()
	// No worker outlives the command, however it returns.
	defer func() {
		if err := pm.KillAll(); err != nil {
			log.Printf("ERROR: killing workers: %v", err)
		}
	}()
	bus := events.NewEventBus()
	defer bus.Close()
	clk := clock.Real()

	log.Printf("overnight run %s", runID)
	log.Printf("Project: %s", projectDir)
	log.Printf("Lanes: %d, max rounds: %d, lane timeout: %s, retry budget: %d",
		cfg.Lanes, cfg.MaxRounds, cfg.LaneTimeout.Std(), cfg.RetryBudget)

	cp := checkpoint.New(checkpoint.Config{
		ProjectDir:       projectDir,
		MessagePrefix:    cfg.MessagePrefix,
		Push:             cfg.PushEnabled(),
		Remote:           cfg.Remote,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout.Std(),
		Bus:              bus,
		Clock:            clk,
	})

	tasksPath := ledgerPath(projectDir, cfg)
	pre := preflight.Run(ctx, preflight.Options{
		ProjectDir: projectDir,
		LedgerPath: tasksPath,
		Backend:    backendCfg,
		Repo:       cp,
	})
	pre.Log()
	if !pre.Passed() {
		return fatal(pre.Err())
	}

	store, err := persistence.NewSQLiteStore(ctx, filepath.Join(state, "state.db"))
	if err != nil {
		return fatal(err)
	}
	defer store.Close()

	if opts.resetRetries {
		if err := store.ResetFailures(ctx); err != nil {
			return fatal(err)
		}
		log.Printf("Retry counts reset")
	}
	failures, err := store.LoadFailures(ctx)
	if err != nil {
		return fatal(err)
	}

	agent, err := backend.New(backendCfg, pm)
	if err != nil {
		return fatal(err)
	}

	l, err := ledger.Load(tasksPath)
	if err != nil && !errors.Is(err, ledger.ErrMalformedLedger) {
		return fatal(err)
	}

	inhibitor, err := backend.PreventSleep(pm, "overnight run "+runID)
	if err != nil {
		log.Printf("WARNING: could not prevent sleep: %v", err)
	}
	defer inhibitor.Release()

	log.Printf("Creating pre-run checkpoint...")
	if _, err := cp.Checkpoint(ctx, 0, "pre-run"); err != nil {
		return fatal(err)
	}

	run := persistence.Run{
		ID:         runID,
		ProjectDir: projectDir,
		Backend:    agent.Name(),
		Lanes:      cfg.Lanes,
		MaxRounds:  cfg.MaxRounds,
		StartedAt:  startedAt,
	}
	if err := store.StartRun(ctx, run); err != nil {
		return fatal(err)
	}

	sched := scheduler.New(scheduler.Config{
		RunID:       runID,
		Lanes:       cfg.Lanes,
		MaxRounds:   cfg.MaxRounds,
		LaneTimeout: cfg.LaneTimeout.Std(),
		RetryBudget: cfg.RetryBudget,
		RoundDelay:  cfg.RoundDelay.Std(),
		Clock:       clk,
		Bus:         bus,
		Recorder:    persistence.NewRecorder(store, runID),
	},
		l,
		worker.NewLauncher(agent, projectDir, tasksPath, runDir, clk),
		detector.New(clk, cfg.PollInterval.Std()),
		cp,
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var program *tea.Program
	tuiDone := make(chan error, 1)
	if opts.tui {
		program = tea.NewProgram(tui.New(bus, runID, startedAt), tea.WithAltScreen())
		go func() {
			_, err := program.Run()
			// Leaving the view stops the run.
			cancelRun()
			tuiDone <- err
		}()
	}

	result, runErr := sched.Run(runCtx, persistence.SeedState(failures))
	if runErr != nil {
		// Call stop() to restore default signal handling (double Ctrl+C = force exit)
		stop()
		log.Printf("Run stopped: %v, cleaning up...", runErr)
		if err := pm.KillAll(); err != nil {
			log.Printf("ERROR: killing workers: %v", err)
		}
	}

	// The run context may be cancelled; bookkeeping still has to land.
	bg := context.WithoutCancel(ctx)
	run.Phase = result.State.Phase.String()
	run.Reason = result.State.Reason
	if runErr != nil {
		run.Phase = "failed"
		run.Reason = runErr.Error()
	}
	run.Rounds = result.State.Round
	run.Checkpoints = result.State.Checkpoints
	run.EndedAt = time.Now()
	if err := store.FinishRun(bg, run); err != nil {
		log.Printf("ERROR: recording run result: %v", err)
	}

	writeReport(bg, store, run, result, l, runDir)

	if program != nil {
		program.Quit()
		select {
		case err := <-tuiDone:
			if err != nil {
				log.Printf("TUI exit error: %v", err)
			}
		case <-time.After(10 * time.Second):
			log.Printf("WARNING: TUI did not exit in time")
		}
	}

	if runErr != nil {
		return fatal(runErr)
	}
	return runResult(result.State, opts.continuous)
}

// writeReport analyses the run and writes RUN_REPORT.md into the run directory.
func writeReport(ctx context.Context, store persistence.Store, run persistence.Run, result scheduler.Result, l *ledger.Ledger, runDir string) {
	rounds, err := store.ListRounds(ctx, run.ID)
	if err != nil {
		log.Printf("WARNING: reading round history: %v", err)
		rounds = nil
		for _, r := range result.Rounds {
			rounds = append(rounds, persistence.ToRoundRecord(r))
		}
	}

	// A missing or emptied ledger leaves the counts at zero.
	_ = l.Reload()
	completed, pending := l.Counts()

	a := analysis.Analyze(analysis.Input{
		Project:        filepath.Base(run.ProjectDir),
		Run:            run,
		Rounds:         rounds,
		TasksCompleted: completed,
		TasksPending:   pending,
	})
	a.Log()

	path, err := analysis.WriteReport(runDir, a)
	if err != nil {
		log.Printf("ERROR: %v", err)
		return
	}
	log.Printf("Report: %s", path)
}
