package progress

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerClampsAndStaysMonotonic(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker(rec)

	tr.Report(-5, "start")
	tr.Report(40, "a")
	tr.Report(30, "regress")
	tr.Report(250, "done")
	tr.Report(50, "after terminal")

	assert.Equal(t, []int{0, 40, 40, 100}, rec.Percents())
	assert.True(t, tr.Done())
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, "done", last.Label)
}

func TestTrackerFailIsTerminal(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker(rec)

	tr.Report(20, "compile")
	tr.Fail(errors.New("boom"))
	tr.Fail(errors.New("again"))
	tr.Report(100, "late")

	evs := rec.Events()
	require.Len(t, evs, 2)
	assert.True(t, evs[1].Failed)
	assert.Equal(t, "boom", evs[1].Err)
	assert.Equal(t, 20, evs[1].Percent)
	assert.True(t, evs[1].Terminal())
}

func TestTrackerFailBeforeAnyReport(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker(rec)
	tr.Fail(nil)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, 0, last.Percent)
	assert.Equal(t, "load failed", last.Err)
}

func TestNilSinkDiscards(t *testing.T) {
	tr := NewTracker(nil)
	tr.Report(100, "x")
	assert.True(t, tr.Done())
}

func TestFanout(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Fanout(a, nil, b)
	sink.Emit(Event{Percent: 10})
	assert.Equal(t, []int{10}, a.Percents())
	assert.Equal(t, []int{10}, b.Percents())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := LogSink(logger)

	sink.Emit(Event{Percent: 20, Label: "Compiling"})
	sink.Emit(Event{Percent: 20, Failed: true, Err: "bad"})

	out := buf.String()
	assert.Contains(t, out, `"msg":"load progress"`)
	assert.Contains(t, out, `"label":"Compiling"`)
	assert.Contains(t, out, `"msg":"load failed"`)
	assert.Contains(t, out, `"error":"bad"`)
}
