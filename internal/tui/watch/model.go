package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/progress"
)

const eventLogSize = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client Client

	width  int
	height int

	health     HealthState
	load       progress.Event
	operations map[string]*OperationState
	opNames    []string
	eventLog   []events.Event

	activity Activity
	bar      bprogress.Model
	opsTable table.Model
	theme    Theme

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) Model {
	return Model{
		client:     Client{BaseURL: apiURL, APIKey: apiKey},
		operations: make(map[string]*OperationState),
		eventLog:   make([]events.Event, 0, eventLogSize),
		hubEvents:  make(chan events.Event, 100),
		bar:        bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(30)),
		opsTable:   newOperationsTable(),
		theme:      NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	c := m.client
	return tea.Batch(
		subscribeToEvents(c, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(c) },
		func() tea.Msg { return fetchOperations(c) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	c := m.client

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.opsTable, cmd = m.opsTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.opsTable.SetColumns(operationColumns(msg.Width - 8))

	case tickMsg:
		m.activity.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.activity.OnEvent(e.At)
		m.health.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		switch e.Type {
		case events.TypeProgress:
			var ev progress.Event
			if err := json.Unmarshal(e.Data, &ev); err == nil {
				m.load = ev
				if ev.Terminal() {
					// A finished load may have changed the operation set.
					cmds = append(cmds,
						func() tea.Msg { return fetchOperations(c) },
						func() tea.Msg { return fetchHealth(c) },
					)
				}
			}
		case events.TypeCall:
			updateOperationState(m.operations, e)
			m.refreshTable()
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.State = msg.State
		m.health.Version = msg.Version
		m.health.Operations = msg.Operations
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(c)
		})

	case operationsMsg:
		m.operations = setOperations(m.operations, msg.Operations)
		m.opNames = m.opNames[:0]
		for name := range m.operations {
			m.opNames = append(m.opNames, name)
		}
		sort.Strings(m.opNames)
		m.refreshTable()

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The receiveNextEvent goroutine keeps waiting on the channel and
		// picks up events from the new subscription.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(c, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(c)
		})
	}

	return m, nil
}

func (m *Model) refreshTable() {
	m.opsTable.SetRows(operationRows(m.operations, m.opNames))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to switchboard..."
	}

	header := renderHeader(m.health, m.load, m.bar, m.activity, m.theme, m.width)
	ops := renderOperations(m.opsTable, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.Bad.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select operation")

	parts := []string{header, ops, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
