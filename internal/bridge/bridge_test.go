package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/loader"
)

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func loadedRegistry(t *testing.T, raw string, caps *capability.Capabilities) *loader.Registry {
	t.Helper()
	r := loader.New(loader.Options{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)), Capabilities: caps})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	if raw != "" {
		_, err := r.Load(context.Background(), []byte(raw), nil)
		require.NoError(t, err)
	}
	return r
}

const config = `{"functions":[
	{"name":"echo","parameters":["msg"],"returnType":"string","code":"return msg"},
	{"name":"boom","parameters":[],"returnType":"string","code":"panic(\"kaboom\")"},
	{"name":"nope","returnType":"bool","code":"parts := strings.Fields(\"\"); return parts[1] == \"x\""},
	{"name":"quiet","returnType":"none","code":""}
]}`

type callJournal struct {
	mu      sync.Mutex
	records []CallRecord
}

func (j *callJournal) RecordCall(_ context.Context, rec CallRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

type callMetrics struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (m *callMetrics) ObserveCall(operation, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]string{}
	}
	m.outcomes[operation] = outcome
}

func TestDispatchEcho(t *testing.T) {
	logger, _ := testLogger()
	d := New(loadedRegistry(t, config, nil), Options{Logger: logger})

	res, err := d.Dispatch(context.Background(), "echo", []string{"hi"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "hi", res.Value)
	assert.Equal(t, uint64(1), res.Version)
	assert.Len(t, res.CallID, 36)
	assert.Empty(t, res.Error)
}

func TestDispatchNoneReturnsNil(t *testing.T) {
	logger, _ := testLogger()
	d := New(loadedRegistry(t, config, nil), Options{Logger: logger})

	res, err := d.Dispatch(context.Background(), "quiet", nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Nil(t, res.Value)
}

func TestDispatchRuntimeFailureReport(t *testing.T) {
	logger, buf := testLogger()
	d := New(loadedRegistry(t, config, nil), Options{Logger: logger})

	res, err := d.Dispatch(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "", res.Value)
	assert.Contains(t, res.Error, "kaboom")
	assert.Contains(t, buf.String(), `"msg":"operation failed"`)
	assert.Contains(t, buf.String(), res.CallID)

	res, err = d.Dispatch(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, false, res.Value)

	res, err = d.Dispatch(context.Background(), "echo", []string{"after"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "after", res.Value)
}

func TestDispatchRuntimeFailureMask(t *testing.T) {
	logger, buf := testLogger()
	d := New(loadedRegistry(t, config, nil), Options{Logger: logger, Policy: PolicyMask})

	res, err := d.Dispatch(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "", res.Value)
	assert.Empty(t, res.Error)
	assert.Contains(t, buf.String(), "kaboom")
}

func TestDispatchErrors(t *testing.T) {
	logger, _ := testLogger()
	d := New(loadedRegistry(t, config, nil), Options{Logger: logger})

	tests := []struct {
		name  string
		op    string
		args  []string
		kind  error
		value any
	}{
		{"unknown", "missing", nil, ErrUnknownOperation, nil},
		{"too few", "echo", nil, ErrArityMismatch, ""},
		{"too many", "echo", []string{"a", "b"}, ErrArityMismatch, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Dispatch(context.Background(), tt.op, tt.args)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			assert.False(t, res.OK)
			assert.Equal(t, tt.value, res.Value)
			assert.Equal(t, err.Error(), res.Error)

			var derr *DispatchError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.op, derr.Operation)
		})
	}
}

func TestDispatchNoActiveHandler(t *testing.T) {
	logger, _ := testLogger()
	d := New(loadedRegistry(t, "", nil), Options{Logger: logger})

	res, err := d.Dispatch(context.Background(), "echo", []string{"hi"})
	assert.ErrorIs(t, err, ErrNoActiveHandler)
	assert.False(t, res.OK)
	assert.Nil(t, res.Value)
}

func TestDispatchAfterReload(t *testing.T) {
	logger, _ := testLogger()
	r := loadedRegistry(t, `{"functions":[{"name":"bar","code":"return \"bar\""}]}`, nil)
	d := New(r, Options{Logger: logger})

	_, err := r.Load(context.Background(), []byte(`{"functions":[{"name":"foo","code":"return \"foo\""}]}`), nil)
	require.NoError(t, err)

	res, err := d.Dispatch(context.Background(), "foo", nil)
	require.NoError(t, err)
	assert.Equal(t, "foo", res.Value)
	assert.Equal(t, uint64(2), res.Version)

	_, err = d.Dispatch(context.Background(), "bar", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

type gateDialog struct {
	release chan struct{}
}

func (g *gateDialog) ShowDialog(string, string) bool {
	<-g.release
	return true
}

func TestDispatchTimeout(t *testing.T) {
	logger, _ := testLogger()
	gate := &gateDialog{release: make(chan struct{})}
	r := loadedRegistry(t, `{"functions":[{"name":"wait","returnType":"bool","code":"return host.ShowDialog(\"a\", \"b\")"}]}`, &capability.Capabilities{Dialog: gate})
	d := New(r, Options{Logger: logger, Timeout: 20 * time.Millisecond})

	res, err := d.Dispatch(context.Background(), "wait", nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, res.OK)
	assert.Equal(t, false, res.Value)

	lease, err := r.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 2, lease.Inflight())
	lease.Release()

	close(gate.release)
	assert.Eventually(t, func() bool {
		l, err := r.Acquire()
		if err != nil {
			return false
		}
		defer l.Release()
		return l.Inflight() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatchHooks(t *testing.T) {
	logger, _ := testLogger()
	journal := &callJournal{}
	metrics := &callMetrics{}
	d := New(loadedRegistry(t, config, nil), Options{Logger: logger, Journal: journal, Metrics: metrics})

	_, _ = d.Dispatch(context.Background(), "echo", []string{"x"})
	_, _ = d.Dispatch(context.Background(), "boom", nil)
	_, _ = d.Dispatch(context.Background(), "missing", nil)

	assert.Equal(t, map[string]string{"echo": OutcomeOK, "boom": OutcomeFailed, "missing": OutcomeRefused}, metrics.outcomes)
	require.Len(t, journal.records, 3)
	assert.Equal(t, "echo", journal.records[0].Operation)
	assert.Equal(t, uint64(1), journal.records[0].Version)
	assert.Contains(t, journal.records[1].Error, "kaboom")
	assert.Equal(t, OutcomeRefused, journal.records[2].Outcome)
}
