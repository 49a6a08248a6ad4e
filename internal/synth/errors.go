package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnbalancedDelimiter is returned for unterminated literals or comments and
	// for unbalanced or mismatched brackets in a snippet.
	ErrUnbalancedDelimiter = errors.New("unbalanced delimiter")
	// ErrInvalidIdentifier is returned for operation or parameter names that
	// cannot be used in generated source.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// SynthesisError reports a spec that could not be turned into source.
type SynthesisError struct {
	Kind      error
	Operation string
	Detail    string
}

func (e *SynthesisError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("operation %q: %v: %s", e.Operation, e.Kind, e.Detail)
}

func (e *SynthesisError) Unwrap() error { return e.Kind }
