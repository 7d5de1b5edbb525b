package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// queryTimeout bounds every statement so a locked database cannot stall a round.
const queryTimeout = 5 * time.Second

// Run is one invocation of start.
type Run struct {
	ID          string
	ProjectDir  string
	Backend     string
	Lanes       int
	MaxRounds   int
	Phase       string // "running" until finished, then done, blocked or failed
	Reason      string
	Rounds      int
	Checkpoints int
	StartedAt   time.Time
	EndedAt     time.Time // Zero while running
}

// LaneRecord is one lane of a persisted round.
type LaneRecord struct {
	Round    int
	Lane     int
	WorkerID string
	Task     string
	Attempt  int
	Outcome  string
	ExitCode int
	Summary  string
	Duration time.Duration
}

// RoundRecord is one persisted round with its lanes and checkpoint.
type RoundRecord struct {
	Number     int
	Outcome    string
	Completed  int
	Pending    int
	Exhausted  []string
	StartedAt  time.Time
	EndedAt    time.Time
	Lanes      []LaneRecord
	Checkpoint *CheckpointRecord
}

// CheckpointRecord is a round commit.
type CheckpointRecord struct {
	Round     int
	Label     string
	Commit    string
	Pushed    bool
	PushError string
	CreatedAt time.Time
}

// TaskFailure is the retry ledger entry for one task.
type TaskFailure struct {
	Task        string
	Failures    int
	LastFailure string
}

// Store defines the persistence interface for run history and retry counts.
type Store interface {
	// Runs
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	// Rounds, lanes, checkpoints
	SaveRound(ctx context.Context, runID string, round RoundRecord) error
	ListRounds(ctx context.Context, runID string) ([]RoundRecord, error)

	// Retry ledger, shared across runs
	SaveFailures(ctx context.Context, failures []TaskFailure) error
	LoadFailures(ctx context.Context) ([]TaskFailure, error)
	ResetFailures(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite doesn't support _foreign_keys in connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database; the shared cache lets its
// connections see the same data.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:mem-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps PRAGMA foreign_keys in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
