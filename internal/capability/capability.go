// Package capability defines the host surface that synthesized operations can
// reach. Nothing outside this set is visible to operation bodies.
package capability

//go:generate mockgen -destination=mocks/mock_dialog.go -package=mocks github.com/mattjoyce/switchboard/internal/capability Dialog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync"

	"github.com/mattjoyce/switchboard/internal/events"
)

// Dialog shows a confirmation prompt and reports whether the user accepted it.
type Dialog interface {
	ShowDialog(title, message string) bool
}

// Capabilities is the set injected into every compiled version.
type Capabilities struct {
	Dialog Dialog
	// Window is an opaque reference to the host window, if any.
	Window string
	// Rand backs host.RandInt. Nil uses the global source.
	Rand *rand.Rand
	// Quit asks the host process to shut down.
	Quit func()
	// Logger receives host.Log and snippet stdout/stderr. Nil uses the
	// loader's logger.
	Logger *slog.Logger
}

// RandInt returns a value in [lo, hi). It returns lo when the range is empty.
func (c *Capabilities) RandInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	if c != nil && c.Rand != nil {
		return lo + c.Rand.IntN(hi-lo)
	}
	return lo + rand.IntN(hi-lo)
}

// ShowDialog forwards to the injected dialog. Without one it declines.
func (c *Capabilities) ShowDialog(title, message string) bool {
	if c == nil || c.Dialog == nil {
		return false
	}
	return c.Dialog.ShowDialog(title, message)
}

// RequestQuit invokes the quit hook and reports whether one was installed.
func (c *Capabilities) RequestQuit() bool {
	if c == nil || c.Quit == nil {
		return false
	}
	c.Quit()
	return true
}

// SystemInfo describes the host platform.
func SystemInfo() string {
	return fmt.Sprintf("OS: %s %s, Go: %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// Call is handed to every generated entry point as its first argument. The
// entry point's recovery guard records a panic here instead of unwinding into
// the dispatcher.
type Call struct {
	ID        string
	Operation string

	mu      sync.Mutex
	failure string
	failed  bool
}

// NewCall creates a failure sink for one dispatched call.
func NewCall(id, operation string) *Call {
	return &Call{ID: id, Operation: operation}
}

// Fail records the first failure for this call.
func (c *Call) Fail(reason any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return
	}
	c.failed = true
	c.failure = fmt.Sprint(reason)
}

// Failure returns the recorded failure, if any.
func (c *Call) Failure() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure, c.failed
}

// ConsoleDialog prompts on a terminal: the prompt goes to Out and a y/yes line
// on In accepts.
type ConsoleDialog struct {
	In  io.Reader
	Out io.Writer

	mu sync.Mutex
	r  *bufio.Reader
}

func (d *ConsoleDialog) ShowDialog(title, message string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.In == nil {
		return false
	}
	if d.r == nil {
		d.r = bufio.NewReader(d.In)
	}
	if d.Out != nil {
		_, _ = fmt.Fprintf(d.Out, "[%s] %s [y/N]: ", title, message)
	}
	line, err := d.r.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// HubDialog publishes dialog requests on the event hub for a remote UI and
// answers with Answer. The host has no round trip to a remote caller here.
type HubDialog struct {
	Hub    *events.Hub
	Answer bool
}

func (d *HubDialog) ShowDialog(title, message string) bool {
	if d.Hub != nil {
		d.Hub.Publish(events.TypeDialog, map[string]any{
			"title":   title,
			"message": message,
			"answer":  d.Answer,
		})
	}
	return d.Answer
}
