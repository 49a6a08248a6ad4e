package protocol

import (
	"time"

	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/progress"
)

// CallRequest asks the host to run one operation. Every argument is a string.
type CallRequest struct {
	// ID is an optional caller correlation id echoed in the response.
	ID        string   `json:"id,omitempty"`
	Operation string   `json:"operation"`
	Args      []string `json:"args"`
}

// CallResponse carries the typed result of one call. Value is a string, a
// bool, or null.
type CallResponse struct {
	ID      string `json:"id,omitempty"`
	OK      bool   `json:"ok"`
	Value   any    `json:"value"`
	Error   string `json:"error,omitempty"`
	Version uint64 `json:"version,omitempty"`
	CallID  string `json:"call_id,omitempty"`
}

// ProgressEvent is the wire form of one load progress notification.
type ProgressEvent struct {
	Percent int       `json:"percent"`
	Label   string    `json:"label"`
	Failed  bool      `json:"failed,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// ResponseFromResult converts a dispatcher result for the wire.
func ResponseFromResult(id string, res bridge.Result) *CallResponse {
	return &CallResponse{
		ID:      id,
		OK:      res.OK,
		Value:   res.Value,
		Error:   res.Error,
		Version: res.Version,
		CallID:  res.CallID,
	}
}

// ProgressFromEvent converts a progress event for the wire.
func ProgressFromEvent(ev progress.Event) ProgressEvent {
	return ProgressEvent{
		Percent: ev.Percent,
		Label:   ev.Label,
		Failed:  ev.Failed,
		Error:   ev.Err,
		At:      ev.At,
	}
}
