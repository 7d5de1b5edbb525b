package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/overnight/internal/events"
)

// WorkerState is what the lane pane knows about one worker.
type WorkerState struct {
	WorkerID  string
	Round     int
	Lane      int
	Task      string
	Attempt   int
	PID       int
	Status    string // "running", "completed", "failed"
	Outcome   string
	Summary   string
	StartTime time.Time
	Duration  time.Duration
}

// LanePaneModel lists every worker of the run with a detail viewport.
type LanePaneModel struct {
	workers     map[string]*WorkerState // workerID -> state
	order       []string                // launch order
	selectedIdx int
	follow      bool // keep the newest worker selected
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewLanePaneModel creates a new lane pane model.
func NewLanePaneModel() LanePaneModel {
	return LanePaneModel{
		workers:  make(map[string]*WorkerState),
		follow:   true,
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the lane pane.
func (m LanePaneModel) Update(msg tea.Msg) (LanePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.follow = m.selectedIdx == len(m.order)-1
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.follow = false
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.LaneLaunchedEvent:
		if _, exists := m.workers[msg.WorkerID]; !exists {
			m.workers[msg.WorkerID] = &WorkerState{
				WorkerID:  msg.WorkerID,
				Round:     msg.Round,
				Lane:      msg.Lane,
				Task:      msg.Task,
				Attempt:   msg.Attempt,
				PID:       msg.PID,
				Status:    "running",
				StartTime: msg.Timestamp,
			}
			m.order = append(m.order, msg.WorkerID)
			if m.follow {
				m.selectedIdx = len(m.order) - 1
			}
			m.updateViewportContent()
		}

	case events.LaneFinishedEvent:
		w, exists := m.workers[msg.WorkerID]
		if !exists {
			// Launch failures never produce a LaneLaunchedEvent.
			w = &WorkerState{WorkerID: msg.WorkerID, Round: msg.Round, Lane: msg.Lane, Task: msg.Task, StartTime: msg.Timestamp}
			m.workers[msg.WorkerID] = w
			m.order = append(m.order, msg.WorkerID)
			if m.follow {
				m.selectedIdx = len(m.order) - 1
			}
		}
		w.Outcome = msg.Outcome
		w.Summary = msg.Summary
		w.Duration = msg.Duration
		w.Status = "failed"
		if msg.Outcome == "completed" {
			w.Status = "completed"
		}
		m.updateViewportContent()
	}

	return m, cmd
}

// View renders the lane pane.
func (m LanePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 32
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderWorkerList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m LanePaneModel) renderWorkerList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Workers")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.order {
			w := m.workers[id]
			line := fmt.Sprintf("%s %-6s %s", StatusIcon(w.Status), w.WorkerID, truncate(w.Task, width-10))
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// Selected returns the selected worker, or nil.
func (m LanePaneModel) Selected() *WorkerState {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.workers[m.order[m.selectedIdx]]
	}
	return nil
}

func (m *LanePaneModel) updateViewportContent() {
	w := m.Selected()
	if w == nil {
		m.viewport.SetContent("Waiting for workers...")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  round %d, lane %d\n\n", StyleTitle.Render(w.WorkerID), w.Round, w.Lane)
	fmt.Fprintf(&b, "Task:     %s\n", w.Task)
	if w.Attempt > 1 {
		fmt.Fprintf(&b, "Attempt:  %d\n", w.Attempt)
	}
	if w.PID > 0 {
		fmt.Fprintf(&b, "PID:      %d\n", w.PID)
	}
	fmt.Fprintf(&b, "Started:  %s\n", w.StartTime.Local().Format("15:04:05"))
	if w.Status == "running" {
		fmt.Fprintf(&b, "Status:   %s\n", StyleStatusRunning.Render("running"))
	} else {
		fmt.Fprintf(&b, "Status:   %s after %s\n", w.Outcome, w.Duration.Round(time.Second))
	}
	if w.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", w.Summary)
	}

	m.viewport.SetContent(b.String())
	m.viewport.GotoTop()
}

// SetSize updates the pane dimensions.
func (m *LanePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h

	vw := max(w-32-4, 10)
	vh := max(h-4, 5)
	m.viewport.Width = vw
	m.viewport.Height = vh
}

// SetFocused updates the focus state.
func (m *LanePaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
