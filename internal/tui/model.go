// Package tui renders a live view of a run from the event bus.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/overnight/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneLanes PaneID = iota
	PaneRun
)

const paneCount = 2

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	lanePane    LanePaneModel
	runPane     RunPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	width       int
	height      int
	quitting    bool
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(eventBus *events.EventBus, runID string, startedAt time.Time) Model {
	m := Model{
		lanePane:    NewLanePaneModel(),
		runPane:     NewRunPaneModel(runID, startedAt),
		focusedPane: PaneLanes,
		eventSub:    eventBus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.runPane.Init())
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneLanes
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneRun
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneLanes {
				var cmd tea.Cmd
				m.lanePane, cmd = m.lanePane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.LaneLaunchedEvent:
		var cmd tea.Cmd
		m.lanePane, cmd = m.lanePane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.LaneFinishedEvent:
		// Both panes track finished lanes.
		var cmd tea.Cmd
		m.lanePane, cmd = m.lanePane.Update(msg)
		cmds = append(cmds, cmd)
		m.runPane, cmd = m.runPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.Event:
		var cmd tea.Cmd
		m.runPane, cmd = m.runPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	default:
		// Spinner ticks
		var cmd tea.Cmd
		m.runPane, cmd = m.runPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Stopping...\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.lanePane.View(), m.runPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView(m.runPane.Finished()))
}

// Quitting reports whether the user asked to quit.
func (m Model) Quitting() bool {
	return m.quitting
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar

	m.lanePane.SetSize(leftWidth, availableHeight)
	m.runPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.lanePane.SetFocused(m.focusedPane == PaneLanes)
	m.runPane.SetFocused(m.focusedPane == PaneRun)
}
