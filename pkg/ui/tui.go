package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/windowsadmins/lexsetup/pkg/progress"
)

const logLines = 8

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	logStyle     = lipgloss.NewStyle().Faint(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg struct{}

type model struct {
	title    string
	queue    *progress.Queue
	ledger   *progress.Ledger
	interval time.Duration
	cancel   func()

	stage      string
	detail     string
	log        []string
	cancelling bool
	done       *progress.DoneEvent
	width      int
}

func newModel(title string, q *progress.Queue, ledger *progress.Ledger, interval time.Duration, cancel func()) model {
	return model{title: title, queue: q, ledger: ledger, interval: interval, cancel: cancel}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd {
	return m.tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done != nil {
				return m, tea.Quit
			}
			if !m.cancelling && m.cancel != nil {
				m.cancelling = true
				m.detail = "Cancelling..."
				m.cancel()
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		m = m.apply(m.queue.Drain())
		if m.done != nil {
			return m, tea.Quit
		}
		return m, m.tick()
	}
	return m, nil
}

// apply folds drained events into the model.
func (m model) apply(events []progress.Event) model {
	for _, ev := range events {
		switch e := ev.(type) {
		case progress.StageEvent:
			if e.Status == progress.StatusRunning {
				m.stage = e.Stage
				m.detail = ""
			}
		case progress.LogEvent:
			m.log = append(m.log, e.Line)
			if len(m.log) > logLines {
				m.log = m.log[len(m.log)-logLines:]
			}
		case progress.DetailEvent:
			if !m.cancelling {
				m.detail = e.Text
			}
		case progress.DoneEvent:
			d := e
			m.done = &d
		}
	}
	return m
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if m.stage != "" {
		header := m.stage
		if m.ledger != nil {
			if finished, total := m.ledger.Summary(); total > 0 {
				header = fmt.Sprintf("%s (%d/%d tasks done)", m.stage, finished, total)
			}
		}
		b.WriteString(stageStyle.Render(header))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.ledger != nil {
		for _, t := range m.ledger.Snapshot() {
			b.WriteString(taskLine(t))
			b.WriteString("\n")
		}
	}
	if m.detail != "" {
		b.WriteString("\n  ")
		b.WriteString(m.detail)
		b.WriteString("\n")
	}

	if len(m.log) > 0 {
		width := m.width - 4
		if width < 20 {
			width = 76
		}
		lines := make([]string, len(m.log))
		for i, l := range m.log {
			lines[i] = truncate(l, width)
		}
		b.WriteString(boxStyle.Render(logStyle.Render(strings.Join(lines, "\n"))))
		b.WriteString("\n")
	}

	if m.done == nil && !m.cancelling && m.cancel != nil {
		b.WriteString(pendingStyle.Render("Press q to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

func taskLine(t progress.Task) string {
	switch t.Status {
	case progress.StatusRunning:
		return stageStyle.Render("  > " + t.Label)
	case progress.StatusSucceeded:
		return doneStyle.Render("  ✓ " + t.Label)
	case progress.StatusFailed:
		return failStyle.Render("  ✗ " + t.Label)
	default:
		return pendingStyle.Render("    " + t.Label)
	}
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// RunTUI shows the interactive progress view until the pipeline's DoneEvent
// arrives. Keyboard interrupts call cancel instead of quitting.
func RunTUI(ctx context.Context, title string, q *progress.Queue, ledger *progress.Ledger, interval time.Duration, cancel func()) (progress.DoneEvent, error) {
	program := tea.NewProgram(newModel(title, q, ledger, interval, cancel), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return progress.DoneEvent{}, fmt.Errorf("running progress view: %w", err)
	}
	m := final.(model)
	if m.done == nil {
		return progress.DoneEvent{}, fmt.Errorf("progress view exited before the pipeline finished")
	}
	return *m.done, nil
}
