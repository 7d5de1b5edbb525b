// Package checkpoint commits the shared working tree once per round and pushes it.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/overnight/internal/clock"
	"github.com/aristath/overnight/internal/events"
)

var (
	// ErrGitMissing indicates the git binary is not on PATH.
	ErrGitMissing = errors.New("git not found on PATH")
	// ErrNotWorkTree indicates the project is not inside a git work tree.
	ErrNotWorkTree = errors.New("project is not inside a git work tree")
	// ErrNoRemote indicates there is nowhere to push.
	ErrNoRemote = errors.New("no git remote configured")
)

// RetryConfig configures exponential backoff for a single push.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int // Total tries per push, including the first
}

// DefaultRetryConfig returns the default push retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxAttempts:     3,
	}
}

// Config configures a checkpoint Service.
type Config struct {
	ProjectDir    string
	MessagePrefix string // Defaults to "overnight"
	Push          bool
	Remote        string // Defaults to "origin"

	Retry RetryConfig

	// BreakerThreshold is the number of consecutive failed pushes that opens
	// the breaker. While open, pushes are skipped until BreakerTimeout passes.
	BreakerThreshold int
	BreakerTimeout   time.Duration

	Bus   *events.EventBus
	Clock clock.Clock
}

// Result describes one checkpoint attempt.
type Result struct {
	Round   int
	Label   string
	Commit  string
	NoOp    bool
	Pushed  bool
	PushErr error
}

// Service creates checkpoint commits. It is driven by a single goroutine.
type Service struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker

	mu           sync.Mutex
	pushFailures int
}

// New creates a checkpoint Service.
func New(cfg Config) *Service {
	if cfg.MessagePrefix == "" {
		cfg.MessagePrefix = "overnight"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	s := &Service{cfg: cfg}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "git-push",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("WARNING: circuit breaker %q: %s -> %s", name, from, to)
			cfg.Bus.Emit(events.PushCircuitEvent{
				From:      from.String(),
				To:        to.String(),
				Timestamp: cfg.Clock.Now(),
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return s
}

// Verify checks that checkpoints are possible at all. Failures are fatal to a run.
func (s *Service) Verify(ctx context.Context) error {
	if _, err := exec.LookPath("git"); err != nil {
		return ErrGitMissing
	}
	out, err := s.git(ctx, gitTimeout, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return fmt.Errorf("%w: %s", ErrNotWorkTree, s.cfg.ProjectDir)
	}
	return nil
}

// Checkpoint stages everything and commits it. A round that changed nothing is
// a NoOp. A failed push is reported in the Result and never undoes the commit.
func (s *Service) Checkpoint(ctx context.Context, round int, label string) (Result, error) {
	res := Result{Round: round, Label: label}

	if _, err := s.git(ctx, gitTimeout, "add", "-A"); err != nil {
		return res, fmt.Errorf("staging changes: %w", err)
	}

	if _, err := s.git(ctx, gitTimeout, "diff", "--cached", "--quiet"); err == nil {
		res.NoOp = true
		s.cfg.Bus.Emit(events.CheckpointNoopEvent{Round: round, Timestamp: s.cfg.Clock.Now()})
		return res, nil
	} else if exitCode(err) != 1 {
		return res, fmt.Errorf("checking staged changes: %w", err)
	}

	if _, err := s.git(ctx, gitTimeout, "commit", "-m", s.message(round, label)); err != nil {
		return res, fmt.Errorf("committing round %d: %w", round, err)
	}

	head, err := s.git(ctx, gitTimeout, "rev-parse", "HEAD")
	if err != nil {
		return res, fmt.Errorf("reading checkpoint hash: %w", err)
	}
	res.Commit = strings.TrimSpace(head)

	if s.cfg.Push {
		res.PushErr = s.push(ctx, round, res.Commit)
		res.Pushed = res.PushErr == nil
	}

	s.cfg.Bus.Emit(events.CheckpointCreatedEvent{
		Round:     round,
		Commit:    res.Commit,
		Pushed:    res.Pushed,
		Timestamp: s.cfg.Clock.Now(),
	})
	return res, nil
}

func (s *Service) message(round int, label string) string {
	return fmt.Sprintf("%s: round %d checkpoint (%s) %s",
		s.cfg.MessagePrefix, round, label, s.cfg.Clock.Now().Format(time.RFC3339))
}

// push sends HEAD to the remote with bounded exponential retry, all inside the
// circuit breaker so one checkpoint counts as one failure.
func (s *Service) push(ctx context.Context, round int, commit string) error {
	if !s.HasRemote(ctx) {
		log.Printf("WARNING: skipping push of %s: %v", shortHash(commit), ErrNoRemote)
		return ErrNoRemote
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.pushWithRetry(ctx)
	})
	if err == nil {
		s.mu.Lock()
		s.pushFailures = 0
		s.mu.Unlock()
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		log.Printf("WARNING: push circuit open, keeping %s local", shortHash(commit))
		return err
	}

	s.mu.Lock()
	s.pushFailures++
	failures := s.pushFailures
	s.mu.Unlock()

	log.Printf("ERROR: push of round %d checkpoint %s failed (%d in a row): %v", round, shortHash(commit), failures, err)
	s.cfg.Bus.Emit(events.PushFailedEvent{
		Round:               round,
		Commit:              commit,
		Err:                 err,
		ConsecutiveFailures: failures,
		Timestamp:           s.cfg.Clock.Now(),
	})
	return err
}

func (s *Service) pushWithRetry(ctx context.Context) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := s.git(ctx, pushTimeout, "push", s.cfg.Remote, "HEAD")
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.Retry.InitialInterval
	policy.MaxInterval = s.cfg.Retry.MaxInterval
	policy.Multiplier = s.cfg.Retry.Multiplier
	policy.MaxElapsedTime = 0

	bounded := backoff.WithMaxRetries(policy, uint64(s.cfg.Retry.MaxAttempts-1))
	return backoff.Retry(operation, backoff.WithContext(bounded, ctx))
}

// HasRemote reports whether the configured push remote exists.
func (s *Service) HasRemote(ctx context.Context) bool {
	out, err := s.git(ctx, gitTimeout, "remote")
	if err != nil {
		return false
	}
	for _, name := range strings.Fields(out) {
		if name == s.cfg.Remote {
			return true
		}
	}
	return false
}

// Dirty returns the number of paths with uncommitted changes.
func (s *Service) Dirty(ctx context.Context) (int, error) {
	out, err := s.git(ctx, gitTimeout, "status", "--porcelain")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n, nil
}

// ConsecutivePushFailures returns the current run of failed pushes.
func (s *Service) ConsecutivePushFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushFailures
}

// BreakerState returns the push circuit breaker state ("closed", "open", "half-open").
func (s *Service) BreakerState() string {
	return s.breaker.State().String()
}

// Ignore makes stateDir invisible to checkpoints by writing a catch-all .gitignore into it.
func Ignore(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(stateDir, ".gitignore")
	if data, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(data)) == "*" {
		return nil
	}
	if err := os.WriteFile(path, []byte("*\n"), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
