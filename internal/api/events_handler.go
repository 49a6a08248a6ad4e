package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/events"
)

const (
	keepAliveInterval = 15 * time.Second
	// retryHint is the reconnect delay suggested to EventSource clients.
	retryHint = 3 * time.Second
)

// handleEvents streams hub events as server-sent events.
//
// Query parameters:
//   - types: comma-separated event types to receive (default: all)
//   - last_event_id: replay cursor for clients that cannot set the
//     Last-Event-ID header; the header wins when both are present
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	types := parseTypes(r.URL.Query().Get("types"))
	cursor := r.Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = r.URL.Query().Get("last_event_id")
	}

	// Subscribe before taking the replay snapshot so nothing published in
	// between is lost; replayed ids are skipped on the live channel.
	ch, cancel := s.events.Subscribe(types...)
	defer cancel()
	replay := s.events.SnapshotSince(parseLastEventID(cursor), types...)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryHint.Milliseconds()); err != nil {
		return
	}
	var sent int64
	for _, ev := range replay {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		sent = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= sent {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseTypes(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one event. Payloads are single-line JSON, so one data
// line suffices.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(&b, "data: %s\n\n", ev.Data)
	_, err := fmt.Fprint(w, b.String())
	return err
}
