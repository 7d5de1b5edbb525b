package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aristath/overnight/internal/analysis"
	"github.com/aristath/overnight/internal/config"
	"github.com/aristath/overnight/internal/ledger"
	"github.com/aristath/overnight/internal/persistence"
	"github.com/aristath/overnight/internal/tui"
)

var (
	styleHeading = lipgloss.NewStyle().Bold(true)
	styleMuted   = tui.StyleStatusPending
)

func newStatusCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger progress, retry counts and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProject(project)
			if err != nil {
				return fatal(err)
			}
			return showStatus(cmd.Context(), cmd.OutOrStdout(), projectDir)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", ".", "path to the project")
	return cmd
}

func showStatus(ctx context.Context, out io.Writer, projectDir string) error {
	cfg, err := config.LoadDefault(projectDir)
	if err != nil {
		return fatal(err)
	}

	fmt.Fprintln(out, styleHeading.Render("overnight status"))
	fmt.Fprintf(out, "Project: %s\n", projectDir)

	tasksPath := ledgerPath(projectDir, cfg)
	l, err := ledger.Load(tasksPath)
	switch {
	case errors.Is(err, ledger.ErrMalformedLedger):
		fmt.Fprintf(out, "\nNo tasks found in %s\n", tasksPath)
		fmt.Fprintln(out, "Create it with checkbox items:")
		fmt.Fprintln(out, "  - [ ] Your first task")
		fmt.Fprintln(out, "  - [ ] Your second task")
	case err != nil:
		return fatal(err)
	default:
		completed, pending := l.Counts()
		fmt.Fprintf(out, "Tasks: %d/%d complete\n", completed, completed+pending)
		if next := l.NextIncomplete(5, nil); len(next) > 0 {
			fmt.Fprintln(out, "\n"+styleHeading.Render("Next tasks"))
			for _, t := range next {
				fmt.Fprintf(out, "  - %s\n", truncateText(t.Text, 70))
			}
		}
	}

	dbPath := filepath.Join(stateDir(projectDir), "state.db")
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintln(out, "\n"+styleMuted.Render("No runs yet."))
		return nil
	}

	store, err := persistence.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		return fatal(err)
	}
	defer store.Close()

	failures, err := store.LoadFailures(ctx)
	if err != nil {
		return fatal(err)
	}
	if len(failures) > 0 {
		fmt.Fprintln(out, "\n"+styleHeading.Render("Retry counts"))
		for _, f := range failures {
			mark := ""
			if f.Failures >= cfg.RetryBudget {
				mark = " (exhausted)"
			}
			fmt.Fprintf(out, "  %d/%d  %s%s\n", f.Failures, cfg.RetryBudget, truncateText(f.Task, 60), mark)
		}
	}

	runs, err := store.RecentRuns(ctx, 5)
	if err != nil {
		return fatal(err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "\n"+styleMuted.Render("No runs yet."))
		return nil
	}

	fmt.Fprintln(out, "\n"+styleHeading.Render("Recent runs"))
	for _, r := range runs {
		result := r.Phase
		if r.Reason != "" {
			result += " (" + r.Reason + ")"
		}
		fmt.Fprintf(out, "  %s  %-10s %-28s %d rounds, %d checkpoints\n",
			r.ID, humanize.Time(r.StartedAt), result, r.Rounds, r.Checkpoints)
	}

	last := runs[0]
	rounds, err := store.ListRounds(ctx, last.ID)
	if err != nil {
		return fatal(err)
	}
	var completed, pending int
	if l != nil {
		completed, pending = l.Counts()
	}
	a := analysis.Analyze(analysis.Input{Run: last, Rounds: rounds, TasksCompleted: completed, TasksPending: pending})
	m := a.Metrics
	fmt.Fprintf(out, "\nLast run: %d workers, %s success", m.Workers, humanize.FtoaWithDigits(m.SuccessRate, 1)+"%")
	if m.Duration > 0 {
		fmt.Fprintf(out, ", %s", m.Duration.Round(time.Second))
	}
	fmt.Fprintln(out)
	for _, p := range a.Patterns {
		fmt.Fprintf(out, "  [%s] %s\n", p.Severity, p.Description)
	}
	return nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
