package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/funcspec"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/progress"
	"github.com/mattjoyce/switchboard/internal/synth"
)

// State is the registry lifecycle state.
type State string

const (
	StateEmpty     State = "empty"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateFailed    State = "failed"
	StateReloading State = "reloading"
	StateClosed    State = "closed"
)

// LoadRecord describes one load attempt for the journal.
type LoadRecord struct {
	Version    uint64
	Hash       string
	Source     string
	Operations int
	Outcome    string
	Error      string
	Duration   time.Duration
	At         time.Time
}

// Journal persists load attempts.
type Journal interface {
	RecordLoad(ctx context.Context, rec LoadRecord) error
}

// ArtifactStore keeps the generated source of the active version on disk for
// inspection. It is never read back.
type ArtifactStore interface {
	Write(unit *synth.BuildUnit, version uint64) error
	Wipe() error
}

// Metrics observes load outcomes.
type Metrics interface {
	ObserveLoad(outcome string, d time.Duration, version uint64, operations int)
}

// Options configures a Registry. Every field is optional.
type Options struct {
	Capabilities *capability.Capabilities
	// Sink receives progress for every load in addition to the per-load sink.
	Sink      progress.Sink
	Journal   Journal
	Artifacts ArtifactStore
	Metrics   Metrics
	Logger    *slog.Logger
}

// Status is a point-in-time view of the registry.
type Status struct {
	State      State     `json:"state"`
	Version    uint64    `json:"version"`
	Hash       string    `json:"hash,omitempty"`
	Source     string    `json:"source,omitempty"`
	Operations []string  `json:"operations"`
	LastError  string    `json:"last_error,omitempty"`
	Draining   []uint64  `json:"draining"`
	LoadedAt   time.Time `json:"loaded_at,omitzero"`
}

// Registry owns the active Version.
type Registry struct {
	caps      *capability.Capabilities
	sink      progress.Sink
	journal   Journal
	artifacts ArtifactStore
	metrics   Metrics
	logger    *slog.Logger

	loadMu sync.Mutex

	mu      sync.RWMutex
	active  *Version
	state   State
	lastErr error
	closed  bool
	nextID  uint64

	drainMu  sync.Mutex
	draining map[uint64]*Version
}

// New creates an empty registry. A stale artifact left by a previous process
// is wiped.
func New(opts Options) *Registry {
	caps := opts.Capabilities
	if caps == nil {
		caps = &capability.Capabilities{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("loader")
	}
	r := &Registry{
		caps:      caps,
		sink:      opts.Sink,
		journal:   opts.Journal,
		artifacts: opts.Artifacts,
		metrics:   opts.Metrics,
		logger:    logger,
		state:     StateEmpty,
		draining:  make(map[uint64]*Version),
	}
	if r.artifacts != nil {
		if err := r.artifacts.Wipe(); err != nil {
			logger.Warn("failed to wipe stale artifact", "error", err)
		}
	}
	return r
}

// Load parses raw, builds it and swaps it in.
func (r *Registry) Load(ctx context.Context, raw []byte, sink progress.Sink) (*Version, error) {
	return r.load(ctx, "inline", sink, func() ([]funcspec.FunctionSpec, error) {
		return funcspec.Parse(raw)
	})
}

// LoadFile reads path and loads it. The format follows the file extension.
func (r *Registry) LoadFile(ctx context.Context, path string, sink progress.Sink) (*Version, error) {
	return r.load(ctx, path, sink, func() ([]funcspec.FunctionSpec, error) {
		return funcspec.LoadFile(path)
	})
}

// LoadDocument loads the bytes returned by read. source names the document
// in logs and the journal and selects the format by extension. A read error
// fails the load like a parse error.
func (r *Registry) LoadDocument(ctx context.Context, source string, read func() ([]byte, error), sink progress.Sink) (*Version, error) {
	return r.load(ctx, source, sink, func() ([]funcspec.FunctionSpec, error) {
		raw, err := read()
		if err != nil {
			return nil, err
		}
		return funcspec.ParseFormat(raw, funcspec.FormatForPath(source))
	})
}

// LoadSpecs builds already-parsed specs and swaps them in.
func (r *Registry) LoadSpecs(ctx context.Context, specs []funcspec.FunctionSpec, sink progress.Sink) (*Version, error) {
	return r.load(ctx, "inline", sink, func() ([]funcspec.FunctionSpec, error) {
		return specs, nil
	})
}

func (r *Registry) load(ctx context.Context, source string, sink progress.Sink, parse func() ([]funcspec.FunctionSpec, error)) (*Version, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	tracker := progress.NewTracker(progress.Fanout(r.sink, sink))
	start := time.Now()

	if !r.begin() {
		tracker.Fail(ErrClosed)
		return nil, ErrClosed
	}

	v, err := r.build(ctx, source, parse, tracker)
	if err == nil {
		err = r.swap(v)
	}

	rec := LoadRecord{
		Source:   source,
		Duration: time.Since(start),
		At:       start.UTC(),
	}
	if err != nil {
		r.fail(err)
		tracker.Fail(err)
		rec.Outcome = "failed"
		rec.Error = err.Error()
		r.logger.Error("load failed", "source", source, "error", err)
	} else {
		rec.Outcome = "ready"
		rec.Version = v.id
		rec.Hash = v.unit.Hash
		rec.Operations = len(v.unit.Entries)
		tracker.Report(100, fmt.Sprintf("Loaded %d functions", rec.Operations))
		r.logger.Info("load complete", "source", source, "version", v.id, "operations", rec.Operations, "hash", v.unit.Hash)
		if r.artifacts != nil {
			if werr := r.artifacts.Write(v.unit, v.id); werr != nil {
				r.logger.Warn("failed to write artifact", "error", werr)
			}
		}
	}

	if r.metrics != nil {
		r.metrics.ObserveLoad(rec.Outcome, rec.Duration, rec.Version, rec.Operations)
	}
	if r.journal != nil {
		if jerr := r.journal.RecordLoad(context.WithoutCancel(ctx), rec); jerr != nil {
			r.logger.Warn("failed to journal load", "error", jerr)
		}
	}

	if err != nil {
		return nil, err
	}
	return v, nil
}

// begin moves the registry into Loading or Reloading.
func (r *Registry) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.state == StateEmpty {
		r.state = StateLoading
	} else {
		r.state = StateReloading
	}
	return true
}

func (r *Registry) build(ctx context.Context, source string, parse func() ([]funcspec.FunctionSpec, error), rep progress.Reporter) (*Version, error) {
	rep.Report(0, "Parsing configuration")
	specs, err := parse()
	if err != nil {
		return nil, err
	}

	if len(specs) == 0 {
		unit, err := synth.Synthesize(nil)
		if err != nil {
			return nil, err
		}
		return newVersion(unit, nil, map[string]*Handler{}, source), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.Report(10, "Synthesizing handlers")
	unit, err := synth.Synthesize(specs)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.Report(20, "Compiling handlers")
	snippetLog := r.logger.With("component", "snippet")
	if r.caps.Logger != nil {
		snippetLog = r.caps.Logger
	}
	snippetLog = snippetLog.With("hash", unit.Hash)
	i, err := newInterpreter(r.caps, snippetLog)
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	if _, err := i.EvalWithContext(ctx, unit.Source); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		be := &BuildError{Err: err}
		be.Line, be.Column = position(err.Error())
		if e, ok := unit.EntryAt(be.Line); ok {
			be.Operation = e.Name
		}
		return nil, be
	}

	handlers := make(map[string]*Handler, len(unit.Entries))
	n := len(unit.Entries)
	for idx, e := range unit.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fn, err := i.Eval(synth.PackageName + "." + e.Symbol)
		if err != nil {
			return nil, &BuildError{Operation: e.Name, Err: err}
		}
		if !fn.IsValid() || fn.Kind() != reflect.Func {
			return nil, &BuildError{Operation: e.Name, Err: fmt.Errorf("%s did not resolve to a function", e.Symbol)}
		}
		handlers[e.Name] = &Handler{Entry: e, fn: fn}
		rep.Report(20+75*(idx+1)/n, "Loading function: "+e.Name)
	}

	return newVersion(unit, i, handlers, source), nil
}

// swap makes v active and retires the previous version.
func (r *Registry) swap(v *Version) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.nextID++
	v.id = r.nextID
	v.loadedAt = time.Now().UTC()
	old := r.active
	r.active = v
	r.state = StateReady
	r.lastErr = nil
	r.mu.Unlock()

	if old != nil {
		r.retire(old)
	}
	return nil
}

func (r *Registry) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.state = StateFailed
	r.lastErr = err
}

func (r *Registry) retire(v *Version) {
	r.drainMu.Lock()
	r.draining[v.id] = v
	r.drainMu.Unlock()

	r.logger.Debug("version draining", "version", v.id, "inflight", v.Inflight())
	v.retire(func(done *Version) {
		r.drainMu.Lock()
		delete(r.draining, done.id)
		r.drainMu.Unlock()
		r.logger.Debug("version released", "version", done.id)
	})
}

// Acquire pins the active version for one call. The lease must be released.
func (r *Registry) Acquire() (*Lease, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil, ErrNoActiveHandler
	}
	r.active.acquire()
	return &Lease{Version: r.active}, nil
}

// State returns the current lifecycle state.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Status reports the registry state.
func (r *Registry) Status() Status {
	r.mu.RLock()
	st := Status{State: r.state, Operations: []string{}}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	if v := r.active; v != nil {
		st.Version = v.id
		st.Hash = v.unit.Hash
		st.Source = v.source
		st.Operations = v.Operations()
		st.LoadedAt = v.loadedAt
	}
	r.mu.RUnlock()

	st.Draining = r.drainingIDs()
	return st
}

func (r *Registry) drainingIDs() []uint64 {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()
	ids := make([]uint64, 0, len(r.draining))
	for id := range r.draining {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close clears the active version, waits for draining versions until ctx is
// done, and wipes the on-disk artifact. Later loads fail with ErrClosed and
// calls fail with ErrNoActiveHandler.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.state = StateClosed
	old := r.active
	r.active = nil
	r.mu.Unlock()

	if old != nil {
		r.retire(old)
	}

	r.drainMu.Lock()
	pending := make([]*Version, 0, len(r.draining))
	for _, v := range r.draining {
		pending = append(pending, v)
	}
	r.drainMu.Unlock()

	var waitErr error
	for _, v := range pending {
		select {
		case <-v.Drained():
		case <-ctx.Done():
			waitErr = fmt.Errorf("waiting for version %d to drain: %w", v.id, ctx.Err())
		}
		if waitErr != nil {
			break
		}
	}

	if r.artifacts != nil {
		if err := r.artifacts.Wipe(); err != nil {
			return errors.Join(waitErr, fmt.Errorf("wipe artifact: %w", err))
		}
	}
	return waitErr
}
