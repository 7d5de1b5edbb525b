// Package preflight validates the environment and project before a run.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/aristath/overnight/internal/backend"
	"github.com/aristath/overnight/internal/ledger"
)

// MinFreeBytes is the free space below which a low-disk warning is raised.
const MinFreeBytes uint64 = 1 << 30

// ErrFailed is returned by Results.Err when any check produced an error.
var ErrFailed = errors.New("preflight checks failed")

// Repo is the revision-control view preflight needs.
type Repo interface {
	Verify(ctx context.Context) error
	HasRemote(ctx context.Context) bool
	Dirty(ctx context.Context) (int, error)
}

// Options configures Run. Probe and FreeSpace default to the real implementations.
type Options struct {
	ProjectDir string
	LedgerPath string
	Backend    backend.Config
	Repo       Repo
	MinFree    uint64

	Probe     func(ctx context.Context, cfg backend.Config) (string, error)
	FreeSpace func(path string) (uint64, error)
}

// Results collects fatal errors and advisory warnings.
type Results struct {
	Errors       []string
	Warnings     []string
	AgentVersion string
}

// Passed reports whether no check produced an error.
func (r *Results) Passed() bool {
	return len(r.Errors) == 0
}

// Err returns nil when passed, otherwise ErrFailed carrying every error message.
func (r *Results) Err() error {
	if r.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFailed, strings.Join(r.Errors, "; "))
}

func (r *Results) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Results) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run executes every check. It never returns early except when the project
// directory is missing, since nothing else can be checked without it.
func Run(ctx context.Context, opts Options) *Results {
	if opts.Probe == nil {
		opts.Probe = backend.Probe
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = freeSpace
	}
	if opts.MinFree == 0 {
		opts.MinFree = MinFreeBytes
	}

	r := &Results{}

	version, err := opts.Probe(ctx, opts.Backend)
	if err != nil {
		r.errorf("agent CLI unavailable: %v", err)
	} else {
		r.AgentVersion = version
	}

	info, err := os.Stat(opts.ProjectDir)
	if err != nil || !info.IsDir() {
		r.errorf("project path does not exist: %s", opts.ProjectDir)
		return r
	}

	if _, err := os.Stat(filepath.Join(opts.ProjectDir, "CLAUDE.md")); err != nil {
		r.warnf("no CLAUDE.md found, workers won't have project context")
	}

	checkLedger(r, opts.LedgerPath)

	if opts.Repo != nil {
		checkRepo(ctx, r, opts.Repo)
	}

	free, err := opts.FreeSpace(opts.ProjectDir)
	if err == nil && free < opts.MinFree {
		r.warnf("low disk space: %s free (recommend at least %s)", humanize.IBytes(free), humanize.IBytes(opts.MinFree))
	}

	return r
}

func checkLedger(r *Results, path string) {
	l, err := ledger.Load(path)
	if err != nil {
		if errors.Is(err, ledger.ErrMalformedLedger) {
			r.warnf("no tasks found in %s", filepath.Base(path))
			return
		}
		r.warnf("could not read ledger: %v", err)
		return
	}
	if l.Pending() == 0 {
		r.warnf("no incomplete tasks in %s", filepath.Base(path))
	}
}

func checkRepo(ctx context.Context, r *Results, repo Repo) {
	if err := repo.Verify(ctx); err != nil {
		r.errorf("%v", err)
		return
	}

	dirty, err := repo.Dirty(ctx)
	switch {
	case err != nil:
		r.warnf("could not check git state: %v", err)
	case dirty > 0:
		r.warnf("uncommitted changes (%d files) will be included in the pre-run checkpoint", dirty)
	}

	if !repo.HasRemote(ctx) {
		r.warnf("no git remote configured, checkpoints will stay local")
	}
}

// Log writes the results in the run log.
func (r *Results) Log() {
	if r.Passed() {
		log.Printf("Preflight checks passed")
	} else {
		log.Printf("ERROR: preflight checks failed")
	}
	if r.AgentVersion != "" {
		log.Printf("Agent CLI: %s", r.AgentVersion)
	}
	for _, e := range r.Errors {
		log.Printf("ERROR: %s", e)
	}
	for _, w := range r.Warnings {
		log.Printf("WARNING: %s", w)
	}
}
