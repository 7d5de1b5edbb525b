// Package worker prepares a lane directory and starts one agent process per task.
package worker

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/aristath/overnight/internal/backend"
	"github.com/aristath/overnight/internal/clock"
	"github.com/aristath/overnight/internal/ledger"
)

// Lane directory artifacts.
const (
	InstructionsFile = "WORKER.md"
	LogFile          = "LOG.md"
	ReportFile       = "HANDOFF.md"
	OutputFile       = "output.log"
)

//go:embed templates/worker.md.tmpl
var templateFS embed.FS

var workerTemplate = template.Must(template.ParseFS(templateFS, "templates/worker.md.tmpl"))

// Request describes one lane assignment.
type Request struct {
	Task            ledger.Task
	Lane            int
	Round           int
	Attempt         int    // 1 for the first try
	PreviousFailure string // Outcome of the last attempt, shown when Attempt > 1
	Notes           []string
}

// LaneHandle is a running worker and where to observe it.
type LaneHandle struct {
	Lane      int
	Round     int
	Task      ledger.Task
	Attempt   int
	Dir       string
	Process   backend.Handle
	StartedAt time.Time
}

// WorkerID returns the R<round>L<lane> identifier.
func (h *LaneHandle) WorkerID() string {
	return ID(h.Round, h.Lane)
}

// ReportPath returns where the worker writes its completion report.
func (h *LaneHandle) ReportPath() string {
	return filepath.Join(h.Dir, ReportFile)
}

// ID formats a worker identifier.
func ID(round, lane int) string {
	return fmt.Sprintf("R%dL%d", round, lane)
}

// LaneDir returns the lane directory for a round inside runDir.
func LaneDir(runDir string, round, lane int) string {
	return filepath.Join(runDir, fmt.Sprintf("round_%d_lane_%d", round, lane))
}

// Launcher starts workers for a single run.
type Launcher struct {
	backend    backend.Launcher
	projectDir string
	ledgerPath string
	runDir     string
	clock      clock.Clock
}

// NewLauncher creates a Launcher writing lane directories under runDir.
func NewLauncher(b backend.Launcher, projectDir, ledgerPath, runDir string, clk clock.Clock) *Launcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &Launcher{
		backend:    b,
		projectDir: projectDir,
		ledgerPath: ledgerPath,
		runDir:     runDir,
		clock:      clk,
	}
}

type payload struct {
	WorkerID        string
	ProjectName     string
	ProjectDir      string
	LedgerPath      string
	LogPath         string
	HandoffPath     string
	Started         string
	Task            string
	Attempt         int
	PreviousFailure string
	Notes           []string
}

// Launch creates the lane directory, writes the instructions and starts the
// agent. It returns as soon as the process is running.
func (l *Launcher) Launch(ctx context.Context, req Request) (*LaneHandle, error) {
	dir := LaneDir(l.runDir, req.Round, req.Lane)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lane directory: %w", err)
	}

	// A reused directory must not carry a stale report into this attempt.
	if err := os.Remove(filepath.Join(dir, ReportFile)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clearing stale report: %w", err)
	}

	attempt := req.Attempt
	if attempt < 1 {
		attempt = 1
	}
	id := ID(req.Round, req.Lane)
	now := l.clock.Now()

	instructions, err := l.render(payload{
		WorkerID:        id,
		ProjectName:     filepath.Base(l.projectDir),
		ProjectDir:      l.projectDir,
		LedgerPath:      l.ledgerPath,
		LogPath:         filepath.Join(dir, LogFile),
		HandoffPath:     filepath.Join(dir, ReportFile),
		Started:         now.Format("2006-01-02 15:04"),
		Task:            req.Task.Text,
		Attempt:         attempt,
		PreviousFailure: req.PreviousFailure,
		Notes:           req.Notes,
	})
	if err != nil {
		return nil, err
	}

	instructionsPath := filepath.Join(dir, InstructionsFile)
	if err := os.WriteFile(instructionsPath, instructions, 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", InstructionsFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, LogFile), nil, 0644); err != nil {
		return nil, fmt.Errorf("creating %s: %w", LogFile, err)
	}

	proc, err := l.backend.Start(ctx, backend.Spec{
		Name:             id,
		WorkDir:          l.projectDir,
		LaneDir:          dir,
		InstructionsPath: instructionsPath,
		OutputPath:       filepath.Join(dir, OutputFile),
	})
	if err != nil {
		return nil, fmt.Errorf("starting %s worker %s: %w", l.backend.Name(), id, err)
	}

	return &LaneHandle{
		Lane:      req.Lane,
		Round:     req.Round,
		Task:      req.Task,
		Attempt:   attempt,
		Dir:       dir,
		Process:   proc,
		StartedAt: now,
	}, nil
}

func (l *Launcher) render(p payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := workerTemplate.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("rendering worker instructions: %w", err)
	}
	return buf.Bytes(), nil
}
