package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/loader"
	"github.com/mattjoyce/switchboard/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestRecordAndListLoads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordLoad(ctx, loader.LoadRecord{
		Version: 1, Hash: "blake3:abc", Source: "functions.json", Operations: 4,
		Outcome: "ready", Duration: 15 * time.Millisecond, At: at,
	}))
	require.NoError(t, s.RecordLoad(ctx, loader.LoadRecord{
		Source: "functions.json", Outcome: "failed", Error: "duplicate name: \"a\"", At: at.Add(time.Minute),
	}))

	loads, err := s.RecentLoads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, loads, 2)

	assert.Equal(t, "failed", loads[0].Outcome)
	assert.Equal(t, uint64(0), loads[0].Version)
	assert.Empty(t, loads[0].Hash)
	assert.Contains(t, loads[0].Error, "duplicate name")

	assert.Equal(t, LoadEntry{
		Version: 1, Hash: "blake3:abc", Source: "functions.json", Operations: 4,
		Outcome: "ready", DurationMS: 15, At: at,
	}, loads[1])

	one, err := s.RecentLoads(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestRecordCallsAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, rec := range []bridge.CallRecord{
		{CallID: "1", Operation: "echo", Version: 1, Outcome: bridge.OutcomeOK},
		{CallID: "2", Operation: "echo", Version: 1, Outcome: bridge.OutcomeOK},
		{CallID: "3", Operation: "boom", Version: 1, Outcome: bridge.OutcomeFailed, Error: "kaboom"},
	} {
		rec.At = now.Add(time.Duration(i) * time.Millisecond)
		rec.Duration = time.Millisecond
		require.NoError(t, s.RecordCall(ctx, rec))
	}

	stats, err := s.CallStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CallStat{
		{Operation: "boom", Outcome: "failed", Count: 1},
		{Operation: "echo", Outcome: "ok", Count: 2},
	}, stats)

	err = s.RecordCall(ctx, bridge.CallRecord{CallID: "1", Operation: "echo", Outcome: "ok", At: now})
	assert.Error(t, err)
}

func TestPruneCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RecordCall(ctx, bridge.CallRecord{CallID: "old", Operation: "echo", Outcome: "ok", At: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.RecordCall(ctx, bridge.CallRecord{CallID: "new", Operation: "echo", Outcome: "ok", At: now}))

	n, err := s.PruneCalls(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := s.CallStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Count)
}
