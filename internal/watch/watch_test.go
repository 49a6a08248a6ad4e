package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "functions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"functions":[]}`), 0600))

	var reloads atomic.Int32
	w := New(path, 20*time.Millisecond, func(context.Context) error {
		reloads.Add(1)
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"functions":[{"name":"a","code":""}]}`), 0600))
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Same content again: no reload.
	require.NoError(t, os.WriteFile(path, []byte(`{"functions":[{"name":"a","code":""}]}`), 0600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), reloads.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "functions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

	var reloads atomic.Int32
	w := New(path, 10*time.Millisecond, func(context.Context) error {
		reloads.Add(1)
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{"x":1}`), 0600))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestRunFailsForMissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing", "functions.json"), 0, func(context.Context) error { return nil }, nil)
	err := w.Run(context.Background())
	require.Error(t, err)
}
