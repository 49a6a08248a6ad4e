package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/switchboard/internal/bridge"
)

// Dispatcher runs one call.
type Dispatcher interface {
	Dispatch(ctx context.Context, operation string, args []string) (bridge.Result, error)
}

// Serve answers JSON-lines requests from r on w, one at a time, until r is
// exhausted or ctx is cancelled. A malformed line gets an ok=false response
// and does not end the session.
func Serve(ctx context.Context, r io.Reader, w io.Writer, d Dispatcher, logger *slog.Logger) error {
	lines := NewLineReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		req, err := lines.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if !errors.Is(err, ErrMalformedRequest) {
				return fmt.Errorf("read request: %w", err)
			}
			logger.Warn("rejected request", "error", err)
			if err := EncodeResponse(w, &CallResponse{OK: false, Error: err.Error()}); err != nil {
				return err
			}
			continue
		}

		// Routing errors are already reflected in the result.
		res, _ := d.Dispatch(ctx, req.Operation, req.Args)
		if err := EncodeResponse(w, ResponseFromResult(req.ID, res)); err != nil {
			return err
		}
	}
}
