// Package progress shows a live progress bar while a batch is in flight.
package progress

import (
	"fmt"
	"io"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/agent462/drove/internal/executor"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

// doneMsg records one finished host.
type doneMsg struct {
	alias  string
	failed bool
}

// finishMsg tells the model the batch is over.
type finishMsg struct{}

// Model is the Bubble Tea model behind the progress bar.
type Model struct {
	title     string
	total     int
	completed int
	failed    int
	last      string
	bar       progress.Model
	cancel    func()
	quitting  bool
}

// NewModel creates a Model for a batch of total hosts. cancel, if non-nil,
// is called when the user presses ctrl+c.
func NewModel(title string, total int, cancel func()) Model {
	return Model{
		title:  title,
		total:  total,
		bar:    progress.New(progress.WithWidth(40)),
		cancel: cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.completed++
		if msg.failed {
			m.failed++
		}
		m.last = msg.alias
		return m, nil

	case finishMsg:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			if m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// Percent is the completed fraction in [0, 1].
func (m Model) Percent() float64 {
	if m.total <= 0 {
		return 1
	}
	return float64(m.completed) / float64(m.total)
}

func (m Model) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}
	return tea.NewView(m.render())
}

func (m Model) render() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString(fmt.Sprintf(" %d/%d", m.completed, m.total))
	if m.failed > 0 {
		b.WriteString(" ")
		b.WriteString(failStyle.Render(fmt.Sprintf("(%d failed)", m.failed)))
	}
	if m.last != "" {
		b.WriteString("\n")
		b.WriteString(subtleStyle.Render("last: " + m.last))
	}
	b.WriteString("\n")
	return b.String()
}

// Tracker runs a Model in the background and feeds it completed outcomes.
type Tracker struct {
	program *tea.Program
	done    chan struct{}
}

// Start launches the progress display on out. The tracker does not read
// from stdin; ctrl+c reaches cancel only through the signal handler of the
// caller.
func Start(out io.Writer, title string, total int, cancel func()) *Tracker {
	p := tea.NewProgram(NewModel(title, total, cancel),
		tea.WithOutput(out),
		tea.WithInput(nil),
	)
	t := &Tracker{program: p, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		_, _ = p.Run()
	}()
	return t
}

// Observe is an executor.Observer.
func (t *Tracker) Observe(o *executor.Outcome) {
	t.program.Send(doneMsg{alias: o.Alias, failed: !o.OK()})
}

// Stop ends the display and waits for the terminal to be restored.
func (t *Tracker) Stop() {
	t.program.Send(finishMsg{})
	<-t.done
}
