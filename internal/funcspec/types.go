package funcspec

import (
	"errors"
	"fmt"
	"strings"
)

// ReturnType is the declared result kind of an operation.
type ReturnType string

const (
	ReturnString ReturnType = "string"
	ReturnBool   ReturnType = "bool"
	ReturnNone   ReturnType = "none"
)

// Valid reports whether t is one of the supported result kinds.
func (t ReturnType) Valid() bool {
	return t == ReturnString || t == ReturnBool || t == ReturnNone
}

// Zero returns the value a failed call of this type resolves to.
func (t ReturnType) Zero() any {
	switch t {
	case ReturnString:
		return ""
	case ReturnBool:
		return false
	default:
		return nil
	}
}

// GoType is the Go spelling used by generated handlers. Empty for none.
func (t ReturnType) GoType() string {
	switch t {
	case ReturnString:
		return "string"
	case ReturnBool:
		return "bool"
	default:
		return ""
	}
}

func parseReturnType(raw string) (ReturnType, error) {
	v := ReturnType(strings.ToLower(strings.TrimSpace(raw)))
	if v == "" {
		return ReturnString, nil
	}
	if !v.Valid() {
		return "", fmt.Errorf("unsupported returnType %q (supported: string, bool, none)", raw)
	}
	return v, nil
}

// FunctionSpec is one declared operation.
type FunctionSpec struct {
	Name        string     `json:"name"`
	Parameters  []string   `json:"parameters"`
	ReturnType  ReturnType `json:"returnType"`
	Code        string     `json:"code"`
	Description string     `json:"description,omitempty"`
}

var (
	// ErrMalformedConfig is the kind of every structural document error.
	ErrMalformedConfig = errors.New("malformed config")
	// ErrDuplicateName is the kind returned when two entries share a name.
	ErrDuplicateName = errors.New("duplicate name")
)

// ConfigError describes why a functions document was rejected.
type ConfigError struct {
	Kind   error
	Name   string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Kind == ErrDuplicateName {
		return fmt.Sprintf("%v: %q", e.Kind, e.Name)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Kind }

func malformed(format string, args ...any) error {
	return &ConfigError{Kind: ErrMalformedConfig, Detail: fmt.Sprintf(format, args...)}
}
