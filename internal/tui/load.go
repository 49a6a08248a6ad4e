// Package tui renders load progress in the terminal.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	bprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/progress"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#874BFD")).
			Padding(0, 1)

	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// historyLines is how many earlier labels stay visible under the bar.
const historyLines = 6

// Feed is a progress.Sink backed by a channel. The producer calls Close when
// the load returns; the consumer calls Stop when it stops reading.
type Feed struct {
	ch       chan progress.Event
	done     chan struct{}
	stopOnce sync.Once
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan progress.Event, 16), done: make(chan struct{})}
}

// Emit blocks until the event is read or the consumer stops.
func (f *Feed) Emit(ev progress.Event) {
	select {
	case f.ch <- ev:
	case <-f.done:
	}
}

// Close ends the stream. Emit must not be called afterwards.
func (f *Feed) Close() { close(f.ch) }

// Stop releases a producer blocked in Emit.
func (f *Feed) Stop() { f.stopOnce.Do(func() { close(f.done) }) }

// Events is the receive side.
func (f *Feed) Events() <-chan progress.Event { return f.ch }

type progressMsg progress.Event

type feedClosedMsg struct{}

func waitForProgress(ch <-chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return feedClosedMsg{}
		}
		return progressMsg(ev)
	}
}

// LoadModel shows a single load: a bar, the current label and recent labels.
type LoadModel struct {
	title   string
	events  <-chan progress.Event
	bar     bprogress.Model
	last    progress.Event
	history []string
	done    bool
	quit    bool
}

// NewLoadModel creates a model reading from events.
func NewLoadModel(title string, events <-chan progress.Event) LoadModel {
	return LoadModel{
		title:  title,
		events: events,
		bar:    bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(50)),
	}
}

func (m LoadModel) Init() tea.Cmd {
	return waitForProgress(m.events)
}

func (m LoadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		w := msg.Width - 8
		if w > 80 {
			w = 80
		}
		if w > 10 {
			m.bar.Width = w
		}

	case progressMsg:
		ev := progress.Event(msg)
		if m.last.Label != "" && m.last.Label != ev.Label {
			m.history = append(m.history, m.last.Label)
			if len(m.history) > historyLines {
				m.history = m.history[len(m.history)-historyLines:]
			}
		}
		m.last = ev
		if ev.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForProgress(m.events)

	case feedClosedMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m LoadModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(float64(m.last.Percent) / 100))
	b.WriteString("\n")

	switch {
	case m.last.Failed:
		b.WriteString(statusError.Render(fmt.Sprintf("✗ %s: %s", m.last.Label, m.last.Err)))
	case m.done && m.last.Percent == 100:
		b.WriteString(statusOK.Render("✓ " + m.last.Label))
	default:
		b.WriteString(labelStyle.Render(m.last.Label))
	}
	b.WriteString("\n")

	for _, label := range m.history {
		b.WriteString(dimStyle.Render("  " + label))
		b.WriteString("\n")
	}
	return docStyle.Render(b.String())
}

// Last returns the most recent event seen.
func (m LoadModel) Last() progress.Event { return m.last }

// Interrupted reports whether the user quit before the load finished.
func (m LoadModel) Interrupted() bool { return m.quit && !m.done }

// RunLoad renders feed until the load finishes or ctx is cancelled. The feed
// is stopped on return so the load never blocks on a closed screen.
func RunLoad(ctx context.Context, title string, feed *Feed, in io.Reader, out io.Writer) (LoadModel, error) {
	defer feed.Stop()

	// A nil input disables keyboard handling.
	p := tea.NewProgram(NewLoadModel(title, feed.Events()), tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if m, ok := final.(LoadModel); ok {
		return m, err
	}
	return LoadModel{}, err
}
