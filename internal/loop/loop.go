// Package loop runs one agent over and over against a fixed prompt, each
// iteration with a fresh process and no carried-over context.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/overnight/internal/backend"
	"github.com/aristath/overnight/internal/clock"
)

// PromptFile is re-read by every iteration.
const PromptFile = "PROMPT.md"

// Defaults for the loop command.
const (
	DefaultIterations = 10
	DefaultDelay      = 5 * time.Minute
)

// ErrNoPrompt is returned when the prompt file is missing.
var ErrNoPrompt = errors.New("loop: prompt file not found")

// Config controls a loop.
type Config struct {
	ProjectDir string
	PromptPath string // Defaults to <ProjectDir>/PROMPT.md
	LogDir     string // Receives iteration_N/output.log
	Iterations int
	Delay      time.Duration // Pause between iterations
	Timeout    time.Duration // Per iteration; 0 means no limit
	Clock      clock.Clock
}

// Iteration is one finished agent run.
type Iteration struct {
	Number   int
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Result lists the iterations that ran.
type Result struct {
	Iterations []Iteration
}

// Run starts the agent once per iteration and waits for it to exit before the
// delay and the next one. A missing prompt or a failed launch ends the loop
// with an error; a timed-out iteration is killed and the loop continues.
func Run(ctx context.Context, b backend.Launcher, cfg Config) (Result, error) {
	if cfg.PromptPath == "" {
		cfg.PromptPath = filepath.Join(cfg.ProjectDir, PromptFile)
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	var res Result
	for i := 1; i <= cfg.Iterations; i++ {
		if _, err := os.Stat(cfg.PromptPath); err != nil {
			return res, fmt.Errorf("%w: %s", ErrNoPrompt, cfg.PromptPath)
		}

		it, err := runIteration(ctx, b, cfg, i)
		if err != nil {
			return res, err
		}
		res.Iterations = append(res.Iterations, it)

		if i == cfg.Iterations || cfg.Delay <= 0 {
			continue
		}
		log.Printf("Waiting %s before iteration %d", cfg.Delay, i+1)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-cfg.Clock.After(cfg.Delay):
		}
	}

	log.Printf("Loop complete after %d iteration(s)", len(res.Iterations))
	return res, nil
}

func runIteration(ctx context.Context, b backend.Launcher, cfg Config, n int) (Iteration, error) {
	dir := filepath.Join(cfg.LogDir, fmt.Sprintf("iteration_%d", n))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Iteration{}, fmt.Errorf("creating iteration directory: %w", err)
	}

	log.Printf("[ITERATION %d] Starting fresh context...", n)
	start := cfg.Clock.Now()
	h, err := b.Start(ctx, backend.Spec{
		Name:             fmt.Sprintf("loop-%d", n),
		WorkDir:          cfg.ProjectDir,
		LaneDir:          dir,
		InstructionsPath: cfg.PromptPath,
		OutputPath:       filepath.Join(dir, "output.log"),
	})
	if err != nil {
		return Iteration{}, fmt.Errorf("iteration %d: %w", n, err)
	}

	it := Iteration{Number: n}
	timedOut, err := wait(ctx, h, cfg)
	if err != nil {
		return it, err
	}
	if timedOut {
		log.Printf("WARNING: iteration %d timed out after %s; killing it", n, cfg.Timeout)
		it.TimedOut = true
	}
	it.ExitCode = h.ExitCode()
	it.Duration = cfg.Clock.Now().Sub(start)

	log.Printf("[ITERATION %d] exited with code %d after %s", n, it.ExitCode, it.Duration.Round(time.Second))
	return it, nil
}

// wait blocks until h exits. On timeout or cancellation the process is killed;
// an exit is always observed before the timer is armed.
func wait(ctx context.Context, h backend.Handle, cfg Config) (bool, error) {
	select {
	case <-h.Done():
		return false, nil
	default:
	}

	var timeout <-chan time.Time
	if cfg.Timeout > 0 {
		timeout = cfg.Clock.After(cfg.Timeout)
	}

	select {
	case <-h.Done():
		return false, nil
	case <-ctx.Done():
		h.Kill()
		return false, ctx.Err()
	case <-timeout:
		h.Kill()
		<-h.Done()
		return true, nil
	}
}
