package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineBytes caps one JSON-lines frame.
const MaxLineBytes = 1 << 20

// ErrMalformedRequest marks a frame that could not be decoded. The stream
// itself is still usable.
var ErrMalformedRequest = errors.New("malformed request")

// EncodeRequest writes req as one JSON line.
func EncodeRequest(w io.Writer, req *CallRequest) error {
	if strings.TrimSpace(req.Operation) == "" {
		return fmt.Errorf("request missing required field: operation")
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeRequest strictly decodes one request: unknown fields are rejected
// and operation is required. A missing args list means no arguments.
func DecodeRequest(r io.Reader) (*CallRequest, error) {
	var req CallRequest

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: failed to decode request: %v", ErrMalformedRequest, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: failed to decode request: trailing data after JSON object", ErrMalformedRequest)
	}

	req.Operation = strings.TrimSpace(req.Operation)
	if req.Operation == "" {
		return nil, fmt.Errorf("%w: missing required field: operation", ErrMalformedRequest)
	}
	if req.Args == nil {
		req.Args = []string{}
	}
	return &req, nil
}

// EncodeResponse writes resp as one JSON line.
func EncodeResponse(w io.Writer, resp *CallResponse) error {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// DecodeResponse strictly decodes one response.
func DecodeResponse(r io.Reader) (*CallResponse, error) {
	var resp CallResponse

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	switch resp.Value.(type) {
	case nil, string, bool:
	default:
		return nil, fmt.Errorf("invalid value type %T (must be string, bool or null)", resp.Value)
	}
	if !resp.OK && resp.Error == "" {
		return nil, fmt.Errorf("response has ok=false but no error message")
	}
	return &resp, nil
}

// LineReader reads JSON-lines requests. Blank lines are skipped.
type LineReader struct {
	scanner *bufio.Scanner
}

func NewLineReader(r io.Reader) *LineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &LineReader{scanner: s}
}

// Next returns the next request. A malformed line yields a decode error and
// the reader stays usable; io.EOF marks the end of input.
func (l *LineReader) Next() (*CallRequest, error) {
	for l.scanner.Scan() {
		line := bytes.TrimSpace(l.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return DecodeRequest(bytes.NewReader(line))
	}
	if err := l.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("request exceeds %d bytes: %w", MaxLineBytes, err)
		}
		return nil, err
	}
	return nil, io.EOF
}
