// Package detector waits for a worker to finish its lane.
package detector

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aristath/overnight/internal/clock"
	"github.com/aristath/overnight/internal/handoff"
	"github.com/aristath/overnight/internal/worker"
)

// DefaultPollInterval is how often the lane directory is checked.
const DefaultPollInterval = 10 * time.Second

// ExitGrace is how long a worker may keep running after writing its report
// before it is killed.
const ExitGrace = 30 * time.Second

// Outcome is how a lane ended.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	ProcessExited
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case ProcessExited:
		return "process_exited"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes a finished lane.
type Result struct {
	Outcome  Outcome
	Report   *handoff.Report // Set when Completed
	ExitCode int             // Set when ProcessExited
	Elapsed  time.Duration
}

// Detector polls lane directories for completion reports.
type Detector struct {
	clock        clock.Clock
	pollInterval time.Duration
}

// New creates a Detector. A zero interval uses DefaultPollInterval.
func New(clk clock.Clock, pollInterval time.Duration) *Detector {
	if clk == nil {
		clk = clock.Real()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Detector{clock: clk, pollInterval: pollInterval}
}

// Await blocks until the lane reports completion, its process exits, or timeout
// elapses. A report that appears is authoritative even if the process keeps
// running; the worker then gets ExitGrace to exit before its process group is
// killed, so no lane outlives its round. On timeout the process group is
// killed. Cancelling ctx kills the process and returns ctx.Err().
func (d *Detector) Await(ctx context.Context, h *worker.LaneHandle, timeout time.Duration) (Result, error) {
	start := d.clock.Now()
	deadline := start.Add(timeout)

	for {
		if report, ok := readReport(h.ReportPath()); ok {
			res := Result{Outcome: Completed, Report: report, Elapsed: d.clock.Now().Sub(start)}
			d.reap(ctx, h)
			return res, nil
		}

		remaining := deadline.Sub(d.clock.Now())
		if remaining <= 0 {
			h.Process.Kill()
			return Result{Outcome: TimedOut, Elapsed: d.clock.Now().Sub(start)}, nil
		}

		select {
		case <-h.Process.Done():
			return d.exited(h, start), nil
		default:
		}

		wait := d.pollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			h.Process.Kill()
			return Result{Elapsed: d.clock.Now().Sub(start)}, ctx.Err()
		case <-h.Process.Done():
			return d.exited(h, start), nil
		case <-d.clock.After(wait):
		}
	}
}

// reap waits up to ExitGrace for a reporting worker to exit, then kills it.
func (d *Detector) reap(ctx context.Context, h *worker.LaneHandle) {
	select {
	case <-h.Process.Done():
		return
	default:
	}

	select {
	case <-h.Process.Done():
	case <-ctx.Done():
		h.Process.Kill()
	case <-d.clock.After(ExitGrace):
		log.Printf("WARNING: %s still running %s after its handoff; killing it", worker.ID(h.Round, h.Lane), ExitGrace)
		h.Process.Kill()
	}
}

// exited does the final report check after the process is gone.
func (d *Detector) exited(h *worker.LaneHandle, start time.Time) Result {
	elapsed := d.clock.Now().Sub(start)
	if report, ok := readReport(h.ReportPath()); ok {
		return Result{Outcome: Completed, Report: report, Elapsed: elapsed}
	}
	return Result{Outcome: ProcessExited, ExitCode: h.Process.ExitCode(), Elapsed: elapsed}
}

// readReport returns the parsed report when a non-empty one exists.
// A report with unparseable front matter still counts; its body is kept.
func readReport(path string) (*handoff.Report, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return nil, false
	}
	// Whitespace-only files are treated as still being written.
	report, _ := handoff.Read(path)
	return report, report != nil
}
