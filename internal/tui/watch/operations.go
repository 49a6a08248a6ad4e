package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
)

// OperationState tracks one operation of the active version.
type OperationState struct {
	Name       string
	Signature  string
	Calls      int
	Failures   int
	LastResult string
	LastCall   time.Time
}

type callEvent struct {
	Operation string `json:"operation"`
	OK        bool   `json:"ok"`
	Value     any    `json:"value"`
	Error     string `json:"error"`
}

// setOperations replaces the operation list, keeping counters for names that
// survived the reload.
func setOperations(current map[string]*OperationState, ops []operationInfo) map[string]*OperationState {
	next := make(map[string]*OperationState, len(ops))
	for _, op := range ops {
		st, ok := current[op.Name]
		if !ok {
			st = &OperationState{Name: op.Name}
		}
		st.Signature = fmt.Sprintf("(%s) %s", strings.Join(op.Parameters, ", "), op.ReturnType)
		next[op.Name] = st
	}
	return next
}

// updateOperationState applies a call event.
func updateOperationState(ops map[string]*OperationState, e events.Event) {
	if e.Type != events.TypeCall {
		return
	}
	var ce callEvent
	if err := json.Unmarshal(e.Data, &ce); err != nil || ce.Operation == "" {
		return
	}
	st, ok := ops[ce.Operation]
	if !ok {
		// Refused calls for unknown operations are not tracked.
		return
	}
	st.Calls++
	st.LastCall = e.At
	if ce.OK {
		st.LastResult = fmt.Sprintf("%v", ce.Value)
	} else {
		st.Failures++
		st.LastResult = "error: " + ce.Error
	}
}

func newOperationsTable() table.Model {
	t := table.New(
		table.WithColumns(operationColumns(80)),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#874BFD"))
	t.SetStyles(s)
	return t
}

func operationColumns(width int) []table.Column {
	rest := max(width-16-24-7-6, 10)
	return []table.Column{
		{Title: "Operation", Width: 16},
		{Title: "Signature", Width: 24},
		{Title: "Calls", Width: 7},
		{Title: "Fail", Width: 6},
		{Title: "Last result", Width: rest},
	}
}

func operationRows(ops map[string]*OperationState, names []string) []table.Row {
	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		st, ok := ops[name]
		if !ok {
			continue
		}
		rows = append(rows, table.Row{
			st.Name,
			st.Signature,
			fmt.Sprintf("%d", st.Calls),
			fmt.Sprintf("%d", st.Failures),
			st.LastResult,
		})
	}
	return rows
}

func renderOperations(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("OPERATIONS"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
