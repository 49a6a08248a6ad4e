// Package bridge is the single external-facing call surface. It resolves a
// named call against whatever version is active when the call is accepted,
// runs it, and always hands back a well-typed result.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/loader"
	"github.com/mattjoyce/switchboard/internal/log"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrArityMismatch    = errors.New("arity mismatch")
	ErrNoActiveHandler  = loader.ErrNoActiveHandler
	ErrTimeout          = errors.New("operation timed out")
)

// DispatchError is returned for calls that could not be routed or finished.
type DispatchError struct {
	Kind      error
	Operation string
	Detail    string
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%v: %q", e.Kind, e.Operation)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Kind }

// Result is what the caller sees for every call, including failed ones.
// Value is a string, a bool, or nil for operations that return nothing.
type Result struct {
	OK      bool   `json:"ok"`
	Value   any    `json:"value"`
	Error   string `json:"error,omitempty"`
	Version uint64 `json:"version,omitempty"`
	CallID  string `json:"call_id"`
}

// FailurePolicy decides how a failure inside an operation body is reported.
type FailurePolicy string

const (
	// PolicyReport returns OK=false with the zero value and the failure text.
	PolicyReport FailurePolicy = "report"
	// PolicyMask returns OK=true with the zero value. The failure is only logged.
	PolicyMask FailurePolicy = "mask"
)

// Registry is the part of loader.Registry the dispatcher needs.
type Registry interface {
	Acquire() (*loader.Lease, error)
}

// CallRecord describes one finished call for the journal.
type CallRecord struct {
	CallID    string
	Operation string
	Version   uint64
	Outcome   string
	Error     string
	Duration  time.Duration
	At        time.Time
}

// Journal persists calls.
type Journal interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

// Metrics observes call outcomes.
type Metrics interface {
	ObserveCall(operation, outcome string, d time.Duration)
}

// Call outcomes recorded in metrics and the journal.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeRefused = "refused"
	OutcomeTimeout = "timeout"
)

// Options configures a Dispatcher.
type Options struct {
	Policy FailurePolicy
	// Timeout bounds each call. Zero means no limit.
	Timeout time.Duration
	Journal Journal
	Metrics Metrics
	Logger  *slog.Logger
}

// Dispatcher routes calls into the active version.
type Dispatcher struct {
	registry Registry
	policy   FailurePolicy
	timeout  time.Duration
	journal  Journal
	metrics  Metrics
	logger   *slog.Logger
}

// New creates a Dispatcher over registry.
func New(registry Registry, opts Options) *Dispatcher {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyReport
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("bridge")
	}
	return &Dispatcher{
		registry: registry,
		policy:   policy,
		timeout:  opts.Timeout,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

type invocation struct {
	value any
	err   error
}

// Dispatch runs operation with args. Routing problems return a
// *DispatchError together with a failed Result. A failure inside the
// operation body is not an error: it is logged and reflected in the Result
// according to the failure policy.
func (d *Dispatcher) Dispatch(ctx context.Context, operation string, args []string) (Result, error) {
	start := time.Now()
	res := Result{CallID: uuid.NewString()}
	logger := d.logger.With("call_id", res.CallID, "operation", operation)

	lease, err := d.registry.Acquire()
	if err != nil {
		derr := &DispatchError{Kind: ErrNoActiveHandler, Operation: operation}
		return d.refuse(ctx, logger, operation, res, derr, start)
	}
	res.Version = lease.ID()

	h, ok := lease.Handler(operation)
	if !ok {
		lease.Release()
		derr := &DispatchError{Kind: ErrUnknownOperation, Operation: operation}
		return d.refuse(ctx, logger, operation, res, derr, start)
	}
	res.Value = h.ReturnType.Zero()
	if len(args) != h.Arity() {
		lease.Release()
		derr := &DispatchError{
			Kind:      ErrArityMismatch,
			Operation: operation,
			Detail:    fmt.Sprintf("expected %d arguments, got %d", h.Arity(), len(args)),
		}
		return d.refuse(ctx, logger, operation, res, derr, start)
	}

	call := capability.NewCall(res.CallID, operation)
	var inv invocation
	if d.timeout <= 0 {
		inv = d.invoke(h, call, args)
		lease.Release()
	} else {
		done := make(chan invocation, 1)
		go func() {
			defer lease.Release()
			done <- d.invoke(h, call, args)
		}()
		timer := time.NewTimer(d.timeout)
		defer timer.Stop()
		select {
		case inv = <-done:
		case <-timer.C:
			derr := &DispatchError{Kind: ErrTimeout, Operation: operation, Detail: d.timeout.String()}
			logger.Warn("operation exceeded its time budget", "timeout", d.timeout)
			return d.finish(ctx, operation, res, derr, OutcomeTimeout, start)
		case <-ctx.Done():
			derr := &DispatchError{Kind: ErrTimeout, Operation: operation, Detail: ctx.Err().Error()}
			return d.finish(ctx, operation, res, derr, OutcomeTimeout, start)
		}
	}

	if inv.err != nil {
		logger.Error("operation failed", "version", res.Version, "error", inv.err)
		res.Value = h.ReturnType.Zero()
		if d.policy == PolicyMask {
			res.OK = true
		} else {
			res.Error = inv.err.Error()
		}
		return d.record(ctx, operation, res, OutcomeFailed, inv.err.Error(), start), nil
	}

	res.OK = true
	res.Value = inv.value
	logger.Debug("operation completed", "version", res.Version)
	return d.record(ctx, operation, res, OutcomeOK, "", start), nil
}

// invoke guards against anything escaping the handler.
func (d *Dispatcher) invoke(h *loader.Handler, call *capability.Call, args []string) (inv invocation) {
	defer func() {
		if r := recover(); r != nil {
			inv = invocation{value: h.ReturnType.Zero(), err: fmt.Errorf("%w: %v", loader.ErrOperationFailed, r)}
		}
	}()
	v, err := h.Invoke(call, args)
	return invocation{value: v, err: err}
}

func (d *Dispatcher) refuse(ctx context.Context, logger *slog.Logger, operation string, res Result, derr *DispatchError, start time.Time) (Result, error) {
	logger.Warn("call refused", "error", derr)
	return d.finish(ctx, operation, res, derr, OutcomeRefused, start)
}

func (d *Dispatcher) finish(ctx context.Context, operation string, res Result, derr *DispatchError, outcome string, start time.Time) (Result, error) {
	res.OK = false
	res.Error = derr.Error()
	return d.record(ctx, operation, res, outcome, derr.Error(), start), derr
}

func (d *Dispatcher) record(ctx context.Context, operation string, res Result, outcome, errText string, start time.Time) Result {
	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.ObserveCall(operation, outcome, elapsed)
	}
	if d.journal != nil {
		rec := CallRecord{
			CallID:    res.CallID,
			Operation: operation,
			Version:   res.Version,
			Outcome:   outcome,
			Error:     errText,
			Duration:  elapsed,
			At:        start.UTC(),
		}
		if err := d.journal.RecordCall(context.WithoutCancel(ctx), rec); err != nil {
			d.logger.Warn("failed to journal call", "call_id", res.CallID, "error", err)
		}
	}
	return res
}
