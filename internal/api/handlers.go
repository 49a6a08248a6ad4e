package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/loader"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.registry.Status()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		State:         st.State,
		Version:       st.Version,
		Operations:    len(st.Operations),
		StartedAt:     s.startedAt.UTC(),
	}
	if st.State != loader.StateReady && st.State != loader.StateReloading {
		resp.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Status())
}

// handleOperations handles GET /operations.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	version, ops, err := s.operations()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, OperationsResponse{Version: version, Operations: ops})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	version, ops, err := s.operations()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(version, ops))
}

// operations lists the active version's operations in name order.
func (s *Server) operations() (uint64, []OperationInfo, error) {
	lease, err := s.registry.Acquire()
	if err != nil {
		return 0, nil, err
	}
	defer lease.Release()

	names := lease.Operations()
	ops := make([]OperationInfo, 0, len(names))
	for _, name := range names {
		h, ok := lease.Handler(name)
		if !ok {
			continue
		}
		params := h.Params
		if params == nil {
			params = []string{}
		}
		ops = append(ops, OperationInfo{
			Name:        h.Name,
			Parameters:  params,
			ReturnType:  string(h.ReturnType),
			Description: h.Description,
		})
	}
	return lease.ID(), ops, nil
}

// handleCall handles POST /call/{operation}.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	operation := chi.URLParam(r, "operation")

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodyBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	args, err := decodeCallBody(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), operation, args)
	s.events.Publish(events.TypeCall, CallEvent{Operation: operation, Result: res})
	if err != nil {
		respondJSON(w, dispatchStatus(err), res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// decodeCallBody accepts an empty body or {"args": [...]} with string
// arguments only.
func decodeCallBody(body []byte) ([]string, error) {
	if len(body) == 0 {
		return []string{}, nil
	}
	var req CallBody
	if err := strictUnmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if req.Args == nil {
		return []string{}, nil
	}
	return req.Args, nil
}

func strictUnmarshal(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// dispatchStatus maps a routing error to an HTTP status.
func dispatchStatus(err error) int {
	switch {
	case errors.Is(err, bridge.ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrArityMismatch):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrNoActiveHandler):
		return http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleReload handles POST /reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		s.writeError(w, http.StatusNotImplemented, "reload not configured")
		return
	}

	v, err := s.reloader.Reload(r.Context())
	if err != nil {
		s.logger.Warn("reload rejected", "error", err)
		status := http.StatusUnprocessableEntity
		if errors.Is(err, loader.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, ReloadFailure{Error: err.Error(), Status: s.registry.Status()})
		return
	}

	respondJSON(w, http.StatusOK, ReloadResponse{Version: v.ID(), Hash: v.Hash(), Operations: v.Operations()})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
