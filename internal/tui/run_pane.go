package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/overnight/internal/events"
)

// activityLimit caps the activity log kept in memory.
const activityLimit = 200

// RunPaneModel shows run progress, checkpoint state and recent activity.
type RunPaneModel struct {
	runID       string
	round       int
	completed   int
	pending     int
	checkpoints int
	lastCommit  string
	pushFailed  int
	circuit     string
	finished    bool
	phase       string
	reason      string
	startedAt   time.Time
	activity    []string
	spinner     spinner.Model
	width       int
	height      int
	focused     bool
}

// NewRunPaneModel creates a run pane for runID.
func NewRunPaneModel(runID string, startedAt time.Time) RunPaneModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StyleStatusRunning
	return RunPaneModel{
		runID:     runID,
		circuit:   "closed",
		startedAt: startedAt,
		spinner:   s,
	}
}

// Init starts the spinner.
func (m RunPaneModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the run pane.
func (m RunPaneModel) Update(msg tea.Msg) (RunPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.RoundStartedEvent:
		m.round = msg.Round
		m.log(msg.Timestamp, "round %d started with %d task(s)", msg.Round, len(msg.Tasks))
		for _, task := range msg.Exhausted {
			m.log(msg.Timestamp, "exhausted: %s", task)
		}

	case events.LaneFinishedEvent:
		m.log(msg.Timestamp, "%s %s", msg.WorkerID, msg.Outcome)

	case events.RoundCompletedEvent:
		m.completed = msg.Completed
		m.pending = msg.Pending
		m.log(msg.Timestamp, "round %d %s (%d done, %d pending)", msg.Round, msg.Outcome, msg.Completed, msg.Pending)

	case events.CheckpointCreatedEvent:
		m.checkpoints++
		m.lastCommit = msg.Commit
		if len(m.lastCommit) > 8 {
			m.lastCommit = m.lastCommit[:8]
		}
		pushed := "local"
		if msg.Pushed {
			pushed = "pushed"
			m.pushFailed = 0
		}
		m.log(msg.Timestamp, "checkpoint %s (%s)", m.lastCommit, pushed)

	case events.CheckpointNoopEvent:
		m.log(msg.Timestamp, "round %d changed nothing", msg.Round)

	case events.PushFailedEvent:
		m.pushFailed = msg.ConsecutiveFailures
		m.log(msg.Timestamp, "push failed (%d in a row)", msg.ConsecutiveFailures)

	case events.PushCircuitEvent:
		m.circuit = msg.To
		m.log(msg.Timestamp, "push circuit %s", msg.To)

	case events.RunFinishedEvent:
		m.finished = true
		m.phase = msg.Phase
		m.reason = msg.Reason
		m.log(msg.Timestamp, "run %s after %d round(s)", msg.Phase, msg.Rounds)
	}

	return m, nil
}

func (m *RunPaneModel) log(ts time.Time, format string, args ...any) {
	line := ts.Local().Format("15:04:05") + " " + fmt.Sprintf(format, args...)
	m.activity = append(m.activity, line)
	if len(m.activity) > activityLimit {
		m.activity = m.activity[len(m.activity)-activityLimit:]
	}
}

// View renders the run pane.
func (m RunPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	status := m.spinner.View() + " running"
	if m.finished {
		status = StyleStatusComplete.Render(m.phase)
		if m.reason != "" {
			status += " (" + m.reason + ")"
		}
	}
	title := StyleTitle.Render("Run " + m.runID)
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Status:      %s\n", status)
	fmt.Fprintf(&b, "Round:       %d\n", m.round)
	fmt.Fprintf(&b, "Started:     %s\n", humanize.Time(m.startedAt))
	fmt.Fprintf(&b, "Completed:   %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.completed)))
	fmt.Fprintf(&b, "Pending:     %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending)))
	fmt.Fprintf(&b, "Checkpoints: %d", m.checkpoints)
	if m.lastCommit != "" {
		fmt.Fprintf(&b, " (last %s)", m.lastCommit)
	}
	b.WriteString("\n")
	if m.pushFailed > 0 || m.circuit != "closed" {
		fmt.Fprintf(&b, "Push:        %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d failed, circuit %s", m.pushFailed, m.circuit)))
	}

	if total := m.completed + m.pending; total > 0 {
		barWidth := min(m.width-4, 40)
		doneWidth := (m.completed * barWidth) / total
		bar := StyleStatusComplete.Render(strings.Repeat("=", doneWidth))
		bar += StyleStatusPending.Render(strings.Repeat(".", barWidth-doneWidth))
		fmt.Fprintf(&b, "\n[%s]  %d/%d\n", bar, m.completed, total)
	}

	// Fill the remaining height with the newest activity lines.
	used := strings.Count(b.String(), "\n") + 2
	if room := m.height - 2 - used; room > 0 && len(m.activity) > 0 {
		b.WriteString("\n")
		start := max(0, len(m.activity)-room)
		for _, line := range m.activity[start:] {
			b.WriteString(StyleHelp.Render(truncate(line, m.width-4)))
			b.WriteString("\n")
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// Finished reports whether the run has ended.
func (m RunPaneModel) Finished() bool {
	return m.finished
}

// SetSize updates the pane dimensions.
func (m *RunPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *RunPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
