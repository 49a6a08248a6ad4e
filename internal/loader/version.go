package loader

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"

	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/funcspec"
	"github.com/mattjoyce/switchboard/internal/synth"
)

// Handler is one resolved entry point.
type Handler struct {
	synth.Entry
	fn reflect.Value
}

// Arity is the number of declared parameters.
func (h *Handler) Arity() int { return len(h.Params) }

// Invoke runs the entry point with args. A failure inside the body, whether
// recovered by the generated guard or escaping it, is returned as an error
// wrapping ErrOperationFailed alongside the declared zero value.
func (h *Handler) Invoke(call *capability.Call, args []string) (value any, err error) {
	zero := h.ReturnType.Zero()
	if len(args) != len(h.Params) {
		return zero, fmt.Errorf("%s expects %d arguments, got %d", h.Name, len(h.Params), len(args))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, reflect.ValueOf(call))
	for _, a := range args {
		in = append(in, reflect.ValueOf(a))
	}

	defer func() {
		if r := recover(); r != nil {
			call.Fail(r)
			value = zero
			err = fmt.Errorf("%w: %v", ErrOperationFailed, r)
		}
	}()

	out := h.fn.Call(in)
	if msg, failed := call.Failure(); failed {
		return zero, fmt.Errorf("%w: %s", ErrOperationFailed, msg)
	}

	switch h.ReturnType {
	case funcspec.ReturnString:
		return out[0].String(), nil
	case funcspec.ReturnBool:
		return out[0].Bool(), nil
	default:
		return nil, nil
	}
}

// Version is one built, activatable operation set.
type Version struct {
	id       uint64
	unit     *synth.BuildUnit
	source   string
	loadedAt time.Time

	mu       sync.Mutex
	interp   *interp.Interpreter
	handlers map[string]*Handler
	inflight int
	draining bool
	released bool
	drained  chan struct{}
	onDrain  func(*Version)
}

func newVersion(unit *synth.BuildUnit, i *interp.Interpreter, handlers map[string]*Handler, source string) *Version {
	return &Version{
		unit:     unit,
		source:   source,
		interp:   i,
		handlers: handlers,
		drained:  make(chan struct{}),
	}
}

func (v *Version) ID() uint64 { return v.id }

// Hash is the content hash of the build unit.
func (v *Version) Hash() string { return v.unit.Hash }

// Source names where the configuration came from (a path, or "inline").
func (v *Version) Source() string { return v.source }

func (v *Version) LoadedAt() time.Time { return v.loadedAt }

// Unit returns the build unit this version was compiled from.
func (v *Version) Unit() *synth.BuildUnit { return v.unit }

// Operations lists operation names in declaration order.
func (v *Version) Operations() []string {
	out := make([]string, 0, len(v.unit.Entries))
	for _, e := range v.unit.Entries {
		out = append(out, e.Name)
	}
	return out
}

// Handler resolves name. The result is only valid while a lease is held.
func (v *Version) Handler(name string) (*Handler, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.handlers[name]
	return h, ok
}

// Inflight returns the number of outstanding leases.
func (v *Version) Inflight() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inflight
}

// Drained is closed once a superseded version has released its interpreter.
func (v *Version) Drained() <-chan struct{} { return v.drained }

func (v *Version) acquire() {
	v.mu.Lock()
	v.inflight++
	v.mu.Unlock()
}

func (v *Version) release() {
	v.mu.Lock()
	v.inflight--
	fin := v.finishLocked()
	v.mu.Unlock()
	if fin {
		v.finalize()
	}
}

// retire marks v as draining. It is finalized immediately when idle.
func (v *Version) retire(onDrain func(*Version)) {
	v.mu.Lock()
	v.draining = true
	v.onDrain = onDrain
	fin := v.finishLocked()
	v.mu.Unlock()
	if fin {
		v.finalize()
	}
}

func (v *Version) finishLocked() bool {
	if v.draining && v.inflight == 0 && !v.released {
		v.released = true
		return true
	}
	return false
}

func (v *Version) finalize() {
	v.mu.Lock()
	v.interp = nil
	v.handlers = nil
	onDrain := v.onDrain
	v.mu.Unlock()
	if onDrain != nil {
		onDrain(v)
	}
	close(v.drained)
}

// Lease pins a version for the duration of one call.
type Lease struct {
	*Version
	once sync.Once
}

// Release unpins the version. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.Version.release)
}
