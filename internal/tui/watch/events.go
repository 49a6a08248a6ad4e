package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	desc, failed := describeEvent(e)

	typeStyle := theme.ForEvent(e.Type, failed)
	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-9s", e.Type)), desc)
}

// describeEvent returns a one-line summary and whether the event reports a
// failure.
func describeEvent(e events.Event) (string, bool) {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	switch e.Type {
	case events.TypeCall:
		op, _ := data["operation"].(string)
		if ok, _ := data["ok"].(bool); !ok {
			msg, _ := data["error"].(string)
			return fmt.Sprintf("%s ✗ %s", op, msg), true
		}
		return fmt.Sprintf("%s → %v", op, data["value"]), false
	case events.TypeProgress:
		label, _ := data["label"].(string)
		pct, _ := data["percent"].(float64)
		if failed, _ := data["failed"].(bool); failed {
			msg, _ := data["error"].(string)
			return fmt.Sprintf("%s: %s", label, msg), true
		}
		return fmt.Sprintf("%3.0f%% %s", pct, label), false
	case events.TypeLoad:
		return fmt.Sprintf("version %v loaded", data["version"]), false
	case events.TypeDialog:
		title, _ := data["title"].(string)
		msg, _ := data["message"].(string)
		return fmt.Sprintf("%s: %s", title, msg), false
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw, false
}
