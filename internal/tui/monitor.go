// Package tui provides the terminal user interface for the caucus watch
// command.
//
// The monitor is a read-only view over one deliberation: it polls the
// store on an interval and renders the current stage, submission
// progress, and the round winner once one exists. Users can only quit
// with 'q' or Ctrl+C.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/concordlabs/caucus/pkg/models"
)

// Snapshot is one poll result delivered to the monitor.
type Snapshot struct {
	// Status is the deliberation's observable state.
	Status *models.Status
	// Winner is the current winning statement, nil before any round has
	// been aggregated.
	Winner *models.Statement
	// Err is a poll failure; the monitor keeps the previous snapshot and
	// shows the error.
	Err error
}

// FetchFunc produces a Snapshot. The watch command backs it with store
// queries; tests back it with canned values.
type FetchFunc func() Snapshot

// snapshotMsg carries a completed poll into Update.
type snapshotMsg Snapshot

// Monitor is the bubbletea model for the deliberation watch view.
type Monitor struct {
	// fetch produces each poll's snapshot.
	fetch FetchFunc
	// interval is the delay between polls.
	interval time.Duration
	// snap is the latest successful snapshot.
	snap Snapshot
	// pollErr is the most recent poll failure, cleared on success.
	pollErr error
	// spin animates while a mediation cycle is running.
	spin spinner.Model
	// width is the terminal width.
	width int
	// quitting indicates the monitor is shutting down.
	quitting bool

	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	stageStyles   map[models.Stage]lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	winnerStyle   lipgloss.Style
	failureStyle  lipgloss.Style
	footerStyle   lipgloss.Style
}

// NewMonitor creates a monitor polling fetch every interval.
func NewMonitor(fetch FetchFunc, interval time.Duration) *Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Monitor{
		fetch:    fetch,
		interval: interval,
		spin:     sp,
		width:    80,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		stageStyles: map[models.Stage]lipgloss.Style{
			models.StageOpinion:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
			models.StageGenerating: lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
			models.StageRanking:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
			models.StageCritique:   lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Bold(true),
			models.StageConcluded:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
			models.StageFinalized:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
		},

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		winnerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("34")).
			Padding(0, 1).
			MarginTop(1),

		failureStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		footerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1),
	}
}

// Init implements tea.Model.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.pollNow())
}

// Update implements tea.Model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		if msg.Err != nil {
			m.pollErr = msg.Err
		} else {
			m.pollErr = nil
			m.snap = Snapshot(msg)
		}
		return m, m.pollLater()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Monitor) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.headerStyle.Render("Deliberation Monitor"))
	b.WriteString("\n")

	s := m.snap.Status
	if s == nil {
		b.WriteString(m.spin.View())
		b.WriteString(" loading...\n")
		if m.pollErr != nil {
			b.WriteString(m.failureStyle.Render(fmt.Sprintf("poll error: %v", m.pollErr)))
			b.WriteString("\n")
		}
		return b.String()
	}

	b.WriteString(m.labelStyle.Render("Question:"))
	b.WriteString(m.valueStyle.Render(truncate(s.Question, m.width-14)))
	b.WriteString("\n")

	b.WriteString(m.labelStyle.Render("Stage:"))
	b.WriteString(m.renderStage(s))
	b.WriteString("\n")

	b.WriteString(m.labelStyle.Render("Round:"))
	b.WriteString(m.valueStyle.Render(fmt.Sprintf("%d", s.Round)))
	b.WriteString("\n")

	b.WriteString(m.labelStyle.Render("Submitted:"))
	b.WriteString(m.renderProgress(s.Submitted, s.Capacity))
	b.WriteString("\n")

	if s.GenerationFailed {
		msg := fmt.Sprintf("mediation failed: %s", s.Failure)
		if s.Retryable {
			msg += " (retry with: caucus retry via the API)"
		}
		b.WriteString(m.failureStyle.Render(msg))
		b.WriteString("\n")
	}

	if w := m.snap.Winner; w != nil {
		title := fmt.Sprintf("Winner (round %d)", w.Round)
		body := lipgloss.JoinVertical(lipgloss.Left,
			m.valueStyle.Render(title),
			truncate(w.Text, maxInt(m.width-8, 20)),
		)
		b.WriteString(m.winnerStyle.Render(body))
		b.WriteString("\n")
	}

	if m.pollErr != nil {
		b.WriteString(m.failureStyle.Render(fmt.Sprintf("poll error: %v", m.pollErr)))
		b.WriteString("\n")
	}

	b.WriteString(m.footerStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

// renderStage renders the stage name in its color, with a spinner while a
// mediation cycle is in flight.
func (m *Monitor) renderStage(s *models.Status) string {
	style, ok := m.stageStyles[s.Stage]
	if !ok {
		style = m.valueStyle
	}
	out := style.Render(string(s.Stage))
	if s.Stage == models.StageGenerating {
		out = m.spin.View() + " " + out
	}
	return out
}

// renderProgress renders a count and a block progress bar.
func (m *Monitor) renderProgress(submitted, capacity int) string {
	const barWidth = 20
	filled := 0
	if capacity > 0 {
		filled = submitted * barWidth / capacity
	}
	if filled > barWidth {
		filled = barWidth
	}
	bar := m.progressFull.Render(strings.Repeat("█", filled)) +
		m.progressEmpty.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %s", m.valueStyle.Render(fmt.Sprintf("%d/%d", submitted, capacity)), bar)
}

// pollNow fetches a snapshot immediately.
func (m *Monitor) pollNow() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		return snapshotMsg(fetch())
	}
}

// pollLater fetches a snapshot after the poll interval.
func (m *Monitor) pollLater() tea.Cmd {
	fetch := m.fetch
	interval := m.interval
	return func() tea.Msg {
		time.Sleep(interval)
		return snapshotMsg(fetch())
	}
}

// NewMonitorProgram creates a Bubbletea program for the watch view.
func NewMonitorProgram(fetch FetchFunc, interval time.Duration) *tea.Program {
	return tea.NewProgram(NewMonitor(fetch, interval), tea.WithAltScreen())
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
