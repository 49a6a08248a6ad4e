package loader

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrNoActiveHandler is returned by Acquire before the first successful load.
	ErrNoActiveHandler = errors.New("no active handler")
	// ErrBuild is the kind of every BuildError.
	ErrBuild = errors.New("build failed")
	// ErrClosed is returned by Load after Close.
	ErrClosed = errors.New("registry closed")
	// ErrOperationFailed wraps a failure raised inside an operation body.
	ErrOperationFailed = errors.New("operation failed")
)

// BuildError reports a compile or instantiate failure of generated source.
// Line and Column refer to the generated source and are zero when the
// interpreter did not report a position.
type BuildError struct {
	Line      int
	Column    int
	Operation string
	Err       error
}

func (e *BuildError) Error() string {
	msg := ErrBuild.Error()
	if e.Operation != "" {
		msg += fmt.Sprintf(" in operation %q", e.Operation)
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" at %d:%d", e.Line, e.Column)
	}
	return msg + ": " + e.Err.Error()
}

func (e *BuildError) Is(target error) bool { return target == ErrBuild }

func (e *BuildError) Unwrap() error { return e.Err }

var positionRE = regexp.MustCompile(`(\d+):(\d+):`)

// position extracts the first line:column pair from an interpreter diagnostic.
func position(msg string) (line, col int) {
	m := positionRE.FindStringSubmatch(msg)
	if m == nil {
		return 0, 0
	}
	line, _ = strconv.Atoi(m[1])
	col, _ = strconv.Atoi(m[2])
	return line, col
}
