package loader

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/synth"
)

// symbols builds the interpreter's symbol table: the pure packages snippets
// may reference plus the host package bound to caps. Nothing else resolves.
//
// Registering fmt makes yaegi rebind its Print and Scan families to the
// interpreter's own streams (see newInterpreter), never the process's.
func symbols(caps *capability.Capabilities, logger *slog.Logger) interp.Exports {
	exports := make(interp.Exports, len(synth.Packages)+1)
	for _, p := range synth.Packages {
		key := p.Path + "/" + p.Name
		src, ok := stdlib.Symbols[key]
		if !ok {
			continue
		}
		pkg := make(map[string]reflect.Value, len(src))
		for name, v := range src {
			pkg[name] = v
		}
		exports[key] = pkg
	}

	hostKey := synth.HostImportPath + "/host"
	exports[hostKey] = map[string]reflect.Value{
		"Call":       reflect.ValueOf((*capability.Call)(nil)),
		"ShowDialog": reflect.ValueOf(caps.ShowDialog),
		"Window":     reflect.ValueOf(func() string { return caps.Window }),
		"RandInt":    reflect.ValueOf(caps.RandInt),
		"SystemInfo": reflect.ValueOf(capability.SystemInfo),
		"Quit":       reflect.ValueOf(caps.RequestQuit),
		"Log":        reflect.ValueOf(func(msg string) { logger.Info(msg) }),
	}
	return exports
}

// logWriter turns snippet stdout/stderr into log lines. It keeps no state,
// so concurrent calls may share it.
type logWriter struct {
	logger *slog.Logger
	stream string
}

func (w logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Info("snippet output", "stream", w.stream, "line", line)
		}
	}
	return len(p), nil
}

// newInterpreter returns an interpreter with an empty stdin and its output
// sent to logger. Snippets can never reach the process's stdio, which
// carries the stdio bridge protocol.
func newInterpreter(caps *capability.Capabilities, logger *slog.Logger) (*interp.Interpreter, error) {
	i := interp.New(interp.Options{
		Stdin:  strings.NewReader(""),
		Stdout: logWriter{logger: logger, stream: "stdout"},
		Stderr: logWriter{logger: logger, stream: "stderr"},
	})
	if err := i.Use(symbols(caps, logger)); err != nil {
		return nil, err
	}
	return i, nil
}
