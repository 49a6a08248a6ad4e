package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the counter or gauge value of the series matching labels.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func TestObserveLoad(t *testing.T) {
	m := New()
	m.ObserveLoad("ready", 10*time.Millisecond, 3, 4)
	m.ObserveLoad("failed", time.Millisecond, 0, 0)

	assert.Equal(t, 1.0, value(t, m, "switchboard_loads_total", map[string]string{"outcome": "ready"}))
	assert.Equal(t, 1.0, value(t, m, "switchboard_loads_total", map[string]string{"outcome": "failed"}))
	assert.Equal(t, 3.0, value(t, m, "switchboard_active_version", nil))
	assert.Equal(t, 4.0, value(t, m, "switchboard_operations", nil))
}

func TestObserveCall(t *testing.T) {
	m := New()
	m.ObserveCall("echo", "ok", time.Millisecond)
	m.ObserveCall("echo", "ok", time.Millisecond)
	m.ObserveCall("echo", "failed", time.Millisecond)

	assert.Equal(t, 2.0, value(t, m, "switchboard_calls_total", map[string]string{"operation": "echo", "outcome": "ok"}))
	assert.Equal(t, 1.0, value(t, m, "switchboard_calls_total", map[string]string{"operation": "echo", "outcome": "failed"}))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLoad("ready", 0, 1, 1)
	m.ObserveCall("x", "ok", 0)

	h := m.Collect(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCollectAndHandler(t *testing.T) {
	m := New()
	h := m.Collect(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/call/x", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 1.0, value(t, m, "switchboard_http_requests_total", map[string]string{"code": "404", "method": "POST"}))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "switchboard_http_requests_total")
}
