package watch

import (
	"fmt"
	"strings"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/loader"
	"github.com/mattjoyce/switchboard/internal/progress"
)

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	State         string
	Version       uint64
	Operations    int
	Connected     bool
	LastCheck     time.Time
}

// Activity lights up on events and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) {
	a.dots = 5
	a.lastEvent = at
}

// Decay fades the dots based on time since the last event.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	elapsed := now.Sub(a.lastEvent)
	a.dots = max(0, 5-int(elapsed/(2*time.Second)))
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.Pulse.Render("●"))
		} else {
			b.WriteString(theme.Idle.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, load progress.Event, bar bprogress.Model, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	label := strings.ToUpper(health.State)
	if !health.Connected {
		label = "CONNECTING"
	}
	statusText := theme.ForState(health.Connected, loader.State(health.State)).Render(label)

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " SWITCHBOARD WATCH"
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  v%d  ⏱ %s  Operations: %d  %s",
		statusText,
		health.Version,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Operations,
		activity.Render(theme),
	)

	loadLine := theme.Dim.Render(" No load seen yet")
	if load.Label != "" {
		label := theme.Accent.Render(load.Label)
		if load.Failed {
			label = theme.Bad.Render(fmt.Sprintf("%s: %s", load.Label, load.Err))
		}
		loadLine = " " + bar.ViewAs(float64(load.Percent)/100) + " " + label
	}

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, loadLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
