package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aristath/overnight/internal/config"
)

// Exit codes.
const (
	exitDone       = 0
	exitRoundLimit = 1
	exitExhausted  = 3
	exitFatal      = 4
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func fatal(err error) error {
	return &exitError{code: exitFatal, err: err}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitDone
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		var ee *exitError
		// Blocked runs are reported by the run log and report, not as errors.
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "overnight",
		Short:         "Run coding agents against a task ledger in unattended rounds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStartCmd(), newStatusCmd(), newInitCmd(), newLoopCmd())
	return root
}

// newRunID returns a sortable run identifier such as 20261019-220501-1a2b3c4d.
func newRunID(now time.Time) string {
	return now.Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// stateDir returns the project's state directory.
func stateDir(projectDir string) string {
	return filepath.Join(projectDir, config.StateDir)
}

// ledgerPath resolves the configured ledger relative to the project.
func ledgerPath(projectDir string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Ledger) {
		return cfg.Ledger
	}
	return filepath.Join(projectDir, cfg.Ledger)
}

// setupLogging sends the standard logger to <runDir>/orchestrator.log and,
// unless quiet, to stderr as well. The returned func restores the previous output.
func setupLogging(runDir string, quiet bool) (func(), error) {
	f, err := os.OpenFile(filepath.Join(runDir, "orchestrator.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}

	prev := log.Writer()
	var out io.Writer = f
	if !quiet {
		out = io.MultiWriter(f, os.Stderr)
	}
	log.SetOutput(out)

	return func() {
		log.SetOutput(prev)
		f.Close()
	}, nil
}

func resolveProject(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving project path: %w", err)
	}
	return abs, nil
}
