package webhook

import (
	"context"

	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/loader"
)

// Dispatcher runs one call.
type Dispatcher interface {
	Dispatch(ctx context.Context, operation string, args []string) (bridge.Result, error)
}

// Reloader re-reads the functions document.
type Reloader interface {
	Reload(ctx context.Context) (*loader.Version, error)
}

// Action is what a verified hook does.
type Action string

const (
	ActionReload Action = "reload"
	ActionCall   Action = "call"
)

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single hook endpoint.
type EndpointConfig struct {
	Path      string
	Action    Action
	Operation string
	Secret    string
	// SignatureHeader carries the signature. Defaults to X-Hub-Signature-256.
	SignatureHeader string
	// DeliveryHeader carries the sender's delivery id. Defaults to
	// X-Webhook-Delivery. Requests without it are never de-duplicated.
	DeliveryHeader string
	MaxBodySize    int64
}

// ReloadResponse is the JSON response for a successful reload hook.
type ReloadResponse struct {
	Version uint64 `json:"version"`
	Hash    string `json:"hash"`
}

// DuplicateResponse acknowledges a delivery that was already applied.
type DuplicateResponse struct {
	Duplicate bool   `json:"duplicate"`
	Delivery  string `json:"delivery"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
	DefaultDeliveryHeader  = "X-Webhook-Delivery"
)
