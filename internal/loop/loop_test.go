package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/overnight/internal/backend"
	"github.com/aristath/overnight/internal/backend/backendtest"
	"github.com/aristath/overnight/internal/clock"
)

var epoch = time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC)

func setup(t *testing.T) (Config, *clock.Stepping) {
	t.Helper()
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, PromptFile), []byte("Work on the next thing.\n"), 0644))
	clk := clock.NewStepping(epoch)
	return Config{
		ProjectDir: project,
		LogDir:     filepath.Join(project, ".overnight", "loops", "l1"),
		Iterations: 3,
		Delay:      5 * time.Minute,
		Clock:      clk,
	}, clk
}

// exitingLauncher returns a fake backend whose processes exit at once with code.
func exitingLauncher(code int) *backendtest.Launcher {
	return &backendtest.Launcher{
		OnStart: func(spec backend.Spec, h *backendtest.Handle) error {
			h.Exit(code)
			return nil
		},
	}
}

func TestRun_IterationsWithDelay(t *testing.T) {
	cfg, clk := setup(t)
	b := exitingLauncher(0)

	res, err := Run(context.Background(), b, cfg)
	require.NoError(t, err)

	require.Len(t, res.Iterations, 3)
	assert.Equal(t, 3, res.Iterations[2].Number)
	assert.Equal(t, epoch.Add(10*time.Minute), clk.Now(), "a delay between iterations, none after the last")

	require.Len(t, b.Specs, 3)
	for i, spec := range b.Specs {
		assert.Equal(t, filepath.Join(cfg.ProjectDir, PromptFile), spec.InstructionsPath, "every iteration reads the same prompt")
		assert.Equal(t, cfg.ProjectDir, spec.WorkDir)
		assert.DirExists(t, spec.LaneDir)
		assert.Equal(t, filepath.Join(cfg.LogDir, fmt.Sprintf("iteration_%d", i+1)), spec.LaneDir)
	}
}

func TestRun_NonZeroExitContinues(t *testing.T) {
	cfg, _ := setup(t)

	res, err := Run(context.Background(), exitingLauncher(2), cfg)
	require.NoError(t, err)
	require.Len(t, res.Iterations, 3)
	assert.Equal(t, 2, res.Iterations[0].ExitCode)
}

func TestRun_TimeoutKillsAndContinues(t *testing.T) {
	cfg, _ := setup(t)
	cfg.Iterations = 2
	cfg.Timeout = time.Hour
	b := &backendtest.Launcher{}

	res, err := Run(context.Background(), b, cfg)
	require.NoError(t, err)

	require.Len(t, res.Iterations, 2)
	assert.True(t, res.Iterations[0].TimedOut)
	assert.Equal(t, time.Hour, res.Iterations[0].Duration)
	assert.Equal(t, 1, b.Handles[0].Kills())
	assert.Equal(t, 1, b.Handles[1].Kills())
}

func TestRun_MissingPrompt(t *testing.T) {
	cfg, _ := setup(t)
	require.NoError(t, os.Remove(filepath.Join(cfg.ProjectDir, PromptFile)))
	b := exitingLauncher(0)

	_, err := Run(context.Background(), b, cfg)
	assert.ErrorIs(t, err, ErrNoPrompt)
	assert.Empty(t, b.Specs)
}

func TestRun_LaunchFailureStops(t *testing.T) {
	cfg, _ := setup(t)
	b := &backendtest.Launcher{
		OnStart: func(spec backend.Spec, h *backendtest.Handle) error {
			return errors.New("agent CLI not found")
		},
	}

	res, err := Run(context.Background(), b, cfg)
	assert.ErrorContains(t, err, "agent CLI not found")
	assert.Empty(t, res.Iterations)
	assert.Len(t, b.Specs, 1)
}

func TestRun_CancelKillsRunningAgent(t *testing.T) {
	cfg, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	b := &backendtest.Launcher{
		OnStart: func(spec backend.Spec, h *backendtest.Handle) error {
			cancel()
			return nil
		},
	}

	_, err := Run(ctx, b, cfg)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, b.Handles, 1)
	assert.Equal(t, 1, b.Handles[0].Kills())
}
