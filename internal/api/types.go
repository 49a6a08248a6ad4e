package api

import (
	"time"

	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/loader"
)

// CallBody is the JSON body for POST /call/{operation}.
type CallBody struct {
	Args []string `json:"args"`
}

// CallEvent is published on the event stream after every call.
type CallEvent struct {
	Operation string `json:"operation"`
	bridge.Result
}

// OperationInfo describes one callable operation.
type OperationInfo struct {
	Name        string   `json:"name"`
	Parameters  []string `json:"parameters"`
	ReturnType  string   `json:"returnType"`
	Description string   `json:"description,omitempty"`
}

// OperationsResponse is returned by GET /operations.
type OperationsResponse struct {
	Version    uint64          `json:"version"`
	Operations []OperationInfo `json:"operations"`
}

// ReloadResponse is returned by POST /reload.
type ReloadResponse struct {
	Version    uint64   `json:"version"`
	Hash       string   `json:"hash"`
	Operations []string `json:"operations"`
}

// ReloadFailure is returned when a reload is rejected. The previous version
// keeps serving.
type ReloadFailure struct {
	Error  string        `json:"error"`
	Status loader.Status `json:"status"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	State         loader.State `json:"state"`
	Version       uint64       `json:"version"`
	Operations    int          `json:"operations"`
	StartedAt     time.Time    `json:"started_at"`
}
