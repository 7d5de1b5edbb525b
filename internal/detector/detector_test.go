package detector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/overnight/internal/backend/backendtest"
	"github.com/aristath/overnight/internal/clock"
	"github.com/aristath/overnight/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC)

func newLane(t *testing.T) (*worker.LaneHandle, *backendtest.Handle) {
	t.Helper()
	proc := backendtest.NewHandle(42)
	return &worker.LaneHandle{Lane: 1, Round: 1, Dir: t.TempDir(), Process: proc}, proc
}

func writeReport(t *testing.T, h *worker.LaneHandle, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.Dir, worker.ReportFile), []byte(content), 0644))
}

func TestAwait_ReportAlreadyPresent(t *testing.T) {
	h, proc := newLane(t)
	writeReport(t, h, "## Completed\n- done\n")

	res, err := New(clock.NewStepping(epoch), 0).Await(context.Background(), h, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	require.NotNil(t, res.Report)
	assert.Equal(t, "done", res.Report.Summary)
	assert.Equal(t, 1, proc.Kills(), "a worker still running after the grace period is killed")
	assert.Equal(t, time.Duration(0), res.Elapsed, "the grace period is not part of the lane time")
}

func TestAwait_ReportingWorkerExitsWithinGrace(t *testing.T) {
	h, proc := newLane(t)
	writeReport(t, h, "## Completed\n- done\n")
	proc.Exit(0)

	res, err := New(clock.NewStepping(epoch), 0).Await(context.Background(), h, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Zero(t, proc.Kills(), "an exited worker is not killed")
}

func TestAwait_ReapStopsOnCancel(t *testing.T) {
	h, proc := newLane(t)
	writeReport(t, h, "## Completed\n- done\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A real clock would make the grace period a real wait; cancellation cuts it short.
	res, err := New(clock.Real(), time.Hour).Await(ctx, h, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 1, proc.Kills())
}

func TestAwait_TimesOutAndKills(t *testing.T) {
	h, proc := newLane(t)
	clk := clock.NewStepping(epoch)

	res, err := New(clk, 10*time.Second).Await(context.Background(), h, 45*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Equal(t, 45*time.Minute, res.Elapsed)
	assert.Equal(t, 1, proc.Kills())
}

func TestAwait_TimeoutNotMultipleOfInterval(t *testing.T) {
	h, _ := newLane(t)
	clk := clock.NewStepping(epoch)

	res, err := New(clk, 10*time.Second).Await(context.Background(), h, 25*time.Second)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Equal(t, 25*time.Second, res.Elapsed, "the last wait is clipped to the deadline")
}

func TestAwait_ProcessExitWithoutReport(t *testing.T) {
	h, proc := newLane(t)
	proc.Exit(2)

	res, err := New(clock.NewStepping(epoch), 0).Await(context.Background(), h, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ProcessExited, res.Outcome)
	assert.Equal(t, 2, res.ExitCode)
	assert.Nil(t, res.Report)
}

func TestAwait_ProcessExitAfterWritingReport(t *testing.T) {
	h, proc := newLane(t)
	// The report lands between the first poll and the exit notification.
	clk := clock.NewStepping(epoch)
	go func() {
		writeReport(t, h, "finished the task\n")
		proc.Exit(0)
	}()

	res, err := New(clk, time.Millisecond).Await(context.Background(), h, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, "finished the task", res.Report.Summary)
}

func TestAwait_EmptyReportIsNotCompletion(t *testing.T) {
	h, proc := newLane(t)
	writeReport(t, h, "   \n")
	proc.Exit(0)

	res, err := New(clock.NewStepping(epoch), 0).Await(context.Background(), h, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ProcessExited, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
}

func TestAwait_ContextCancelled(t *testing.T) {
	h, proc := newLane(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Real clock so the poll wait does not fire before the cancellation is seen.
	_, err := New(clock.Real(), time.Hour).Await(ctx, h, 2*time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, proc.Kills())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "process_exited", ProcessExited.String())
}
