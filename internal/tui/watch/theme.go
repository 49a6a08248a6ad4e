// Package watch implements the live monitor TUI for a running switchboard.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/loader"
)

// Theme holds the watch styles. Colors adapt to light and dark terminals.
type Theme struct {
	Good lipgloss.Style
	Busy lipgloss.Style
	Bad  lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
	Accent lipgloss.Style

	Pulse lipgloss.Style
	Idle  lipgloss.Style
}

func adaptive(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

func NewDefaultTheme() Theme {
	fg := func(c lipgloss.AdaptiveColor) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	green := adaptive("#1A7F37", "#3FB950")

	return Theme{
		Good: fg(green),
		Busy: fg(adaptive("#9A6700", "#D29922")),
		Bad:  fg(adaptive("#CF222E", "#F85149")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(adaptive("#8250DF", "#A371F7")),
		Title:  lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Header: fg(adaptive("#0969DA", "#58A6FF")).Bold(true),
		Dim:    fg(adaptive("#6E7781", "#8B949E")),
		Accent: fg(adaptive("#953800", "#E3B341")),

		Pulse: fg(green),
		Idle:  fg(adaptive("#D0D7DE", "#30363D")),
	}
}

// ForState styles a registry state as the header shows it.
func (t Theme) ForState(connected bool, state loader.State) lipgloss.Style {
	switch {
	case !connected:
		return t.Bad
	case state == loader.StateReady:
		return t.Good
	case state == loader.StateLoading || state == loader.StateReloading:
		return t.Busy
	default:
		return t.Bad
	}
}

// ForEvent styles an event type column.
func (t Theme) ForEvent(eventType string, failed bool) lipgloss.Style {
	switch {
	case failed:
		return t.Bad
	case eventType == events.TypeProgress || eventType == events.TypeLoad:
		return t.Busy
	case eventType == events.TypeCall:
		return t.Good
	default:
		return t.Accent
	}
}
