// Package analysis computes run metrics, flags unhealthy patterns, and writes RUN_REPORT.md.
package analysis

import (
	"fmt"
	"log"
	"time"

	"github.com/aristath/overnight/internal/persistence"
)

// ReportFile is written into the run directory.
const ReportFile = "RUN_REPORT.md"

// Thresholds for pattern detection.
const (
	HighFailureRate  = 0.3
	ShallowMinTasks  = 2
	ShallowAvgLaneAt = 2 * time.Minute
)

// Severity of a detected pattern.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Metrics aggregates one run.
type Metrics struct {
	Rounds         int // Rounds that launched workers
	Workers        int
	Completed      int
	Failed         int // Process exits, launch failures and blocked reports
	TimedOut       int
	SuccessRate    float64 // Percent of workers that completed
	TasksCompleted int     // Ledger totals at the end of the run
	TasksPending   int
	Exhausted      []string
	Duration       time.Duration
	AvgCompleted   time.Duration // Mean lane time of completed workers
}

// Pattern is a detected problem with a recommendation.
type Pattern struct {
	Type           string
	Severity       Severity
	Description    string
	Recommendation string
}

// Improvement is a prioritised action derived from a pattern.
type Improvement struct {
	Priority string
	Title    string
	Action   string
}

// Analysis is the result of Analyze.
type Analysis struct {
	Project      string
	Run          persistence.Run
	Metrics      Metrics
	Patterns     []Pattern
	Improvements []Improvement
}

// Input is what a finished (or interrupted) run left behind.
type Input struct {
	Project        string
	Run            persistence.Run
	Rounds         []persistence.RoundRecord
	TasksCompleted int
	TasksPending   int
}

// Analyze computes metrics and patterns.
func Analyze(in Input) Analysis {
	m := Metrics{
		TasksCompleted: in.TasksCompleted,
		TasksPending:   in.TasksPending,
	}
	if !in.Run.EndedAt.IsZero() {
		m.Duration = in.Run.EndedAt.Sub(in.Run.StartedAt)
	}

	var completedTime time.Duration
	seen := make(map[string]bool)
	for _, round := range in.Rounds {
		// A round that only records exhausted tasks launched nobody.
		if len(round.Lanes) > 0 {
			m.Rounds++
		}
		for _, task := range round.Exhausted {
			if !seen[task] {
				seen[task] = true
				m.Exhausted = append(m.Exhausted, task)
			}
		}
		for _, lane := range round.Lanes {
			m.Workers++
			switch lane.Outcome {
			case "completed":
				m.Completed++
				completedTime += lane.Duration
			case "timed_out":
				m.TimedOut++
			default:
				m.Failed++
			}
		}
	}
	if m.Workers > 0 {
		m.SuccessRate = float64(m.Completed) / float64(m.Workers) * 100
	}
	if m.Completed > 0 {
		m.AvgCompleted = completedTime / time.Duration(m.Completed)
	}

	patterns := detectPatterns(m)
	return Analysis{
		Project:      in.Project,
		Run:          in.Run,
		Metrics:      m,
		Patterns:     patterns,
		Improvements: improvements(patterns),
	}
}

func detectPatterns(m Metrics) []Pattern {
	var patterns []Pattern

	if m.Workers > 0 {
		rate := float64(m.Failed+m.TimedOut) / float64(m.Workers)
		if rate > HighFailureRate {
			patterns = append(patterns, Pattern{
				Type:           "high_failure_rate",
				Severity:       SeverityHigh,
				Description:    fmt.Sprintf("High failure rate: %.0f%%", rate*100),
				Recommendation: "Check worker output.log files for common errors. Tasks may be too large for one worker.",
			})
		}
	}

	if m.TasksCompleted == 0 && m.Completed > 0 {
		patterns = append(patterns, Pattern{
			Type:           "tasks_not_marked",
			Severity:       SeverityMedium,
			Description:    "Workers completed but no tasks are marked done",
			Recommendation: "Something is unticking the ledger. Check whether workers rewrite the task file.",
		})
	}

	if m.Completed > ShallowMinTasks && m.AvgCompleted < ShallowAvgLaneAt {
		patterns = append(patterns, Pattern{
			Type:           "shallow_work",
			Severity:       SeverityMedium,
			Description:    "Workers completing very quickly, which may indicate shallow fixes",
			Recommendation: fmt.Sprintf("Average time per completed task is %s. Review the handoffs for thoroughness.", m.AvgCompleted.Round(time.Second)),
		})
	}

	if len(m.Exhausted) > 0 {
		patterns = append(patterns, Pattern{
			Type:           "exhausted_tasks",
			Severity:       SeverityHigh,
			Description:    fmt.Sprintf("%d task(s) exhausted their retry budget", len(m.Exhausted)),
			Recommendation: "Split these tasks or clarify them, then rerun with --reset-retries.",
		})
	}

	return patterns
}

func improvements(patterns []Pattern) []Improvement {
	var out []Improvement
	for _, p := range patterns {
		priority := "P1"
		if p.Severity == SeverityHigh {
			priority = "P0"
		}
		out = append(out, Improvement{Priority: priority, Title: p.Description, Action: p.Recommendation})
	}
	return out
}

// Log writes a run summary to the log.
func (a Analysis) Log() {
	m := a.Metrics
	log.Printf("Run summary: %d rounds, %d workers, %.1f%% success, %d tasks done, %d pending, %s",
		m.Rounds, m.Workers, m.SuccessRate, m.TasksCompleted, m.TasksPending, m.Duration.Round(time.Second))
	for _, p := range a.Patterns {
		log.Printf("WARNING: [%s] %s", p.Severity, p.Description)
	}
}
