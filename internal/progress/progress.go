// Package progress carries ordered load progress from the loader to whoever is
// watching: a terminal bar, the event hub, or a log.
package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one progress notification. A load ends with either Percent == 100
// or Failed == true.
type Event struct {
	Percent int       `json:"percent"`
	Label   string    `json:"label"`
	Failed  bool      `json:"failed,omitempty"`
	Err     string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Terminal reports whether no further events follow e in the same load.
func (e Event) Terminal() bool {
	return e.Failed || e.Percent >= 100
}

// Sink receives events synchronously, in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Reporter is what the loader pushes progress into.
type Reporter interface {
	Report(percent int, label string)
	Fail(err error)
}

// Tracker turns raw Report/Fail calls into a well-formed stream for one load:
// percents are clamped to [0, 100] and never decrease, and nothing is emitted
// after the terminal event.
type Tracker struct {
	sink Sink

	mu   sync.Mutex
	last int
	done bool
	now  func() time.Time
}

// NewTracker starts a fresh stream. A nil sink discards events.
func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = Nop
	}
	return &Tracker{sink: sink, last: -1, now: time.Now}
}

func (t *Tracker) Report(percent int, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	percent = max(0, min(100, percent))
	if percent < t.last {
		percent = t.last
	}
	t.last = percent
	ev := Event{Percent: percent, Label: label, At: t.now().UTC()}
	t.done = ev.Terminal()
	t.sink.Emit(ev)
}

func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	msg := "load failed"
	if err != nil {
		msg = err.Error()
	}
	t.sink.Emit(Event{
		Percent: max(t.last, 0),
		Label:   "Load failed",
		Failed:  true,
		Err:     msg,
		At:      t.now().UTC(),
	})
}

// Done reports whether the terminal event was emitted.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// Nop discards every event.
var Nop Sink = nopSink{}

// Fanout emits each event to every non-nil sink in order.
func Fanout(sinks ...Sink) Sink {
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return SinkFunc(func(ev Event) {
		for _, s := range live {
			s.Emit(ev)
		}
	})
}

// LogSink writes events to logger at debug level, failures at error level.
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(ev Event) {
		if ev.Failed {
			logger.Error("load failed", "percent", ev.Percent, "error", ev.Err)
			return
		}
		logger.Debug("load progress", "percent", ev.Percent, "label", ev.Label)
	})
}

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Percents returns just the percent values, in order.
func (r *Recorder) Percents() []int {
	evs := r.Events()
	out := make([]int, len(evs))
	for i, ev := range evs {
		out[i] = ev.Percent
	}
	return out
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
