// Package synth turns validated function specs into one Go source unit that
// the loader interprets.
//
// Each spec becomes an entry point named Op_<name>:
//
//   - The first parameter is a *host.Call used as the per-call failure sink.
//   - The declared parameters follow, all typed string.
//   - The result is named __result and typed by the return type (none has no
//     result).
//   - A deferred guard recovers any panic, records it on the call and resets
//     __result to its zero value.
//   - The snippet statements follow, one per line, then a bare return.
//
// Synthesis is pure: the same specs always produce the same unit and hash.
package synth

import (
	"encoding/hex"
	"fmt"
	"go/token"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/switchboard/internal/funcspec"
)

const (
	// PackageName is the package clause of generated source.
	PackageName = "main"
	// HostImportPath is the import path of the capability package inside the
	// interpreter.
	HostImportPath = "switchboard/host"
	// SymbolPrefix is prepended to operation names to form entry point names.
	SymbolPrefix = "Op_"
)

// Package is a pre-importable package. Anchor is a reference emitted as
// `var _ = <Anchor>` so an import is never reported as unused.
type Package struct {
	Name   string
	Path   string
	Anchor string
}

// Packages lists the pure packages snippets may reference without importing.
var Packages = []Package{
	{Name: "fmt", Path: "fmt", Anchor: "fmt.Sprint"},
	{Name: "math", Path: "math", Anchor: "math.Abs"},
	{Name: "sort", Path: "sort", Anchor: "sort.Strings"},
	{Name: "strconv", Path: "strconv", Anchor: "strconv.Itoa"},
	{Name: "strings", Path: "strings", Anchor: "strings.Compare"},
	{Name: "unicode", Path: "unicode", Anchor: "unicode.IsSpace"},
}

var packageRefs = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(Packages))
	for _, p := range Packages {
		out[p.Name] = regexp.MustCompile(`\b` + p.Name + `\.`)
	}
	return out
}()

// Entry locates one operation inside a BuildUnit.
type Entry struct {
	Name        string
	Symbol      string
	Params      []string
	ReturnType  funcspec.ReturnType
	Description string
	// StartLine and EndLine are the 1-based source lines of the function.
	StartLine int
	EndLine   int
}

// BuildUnit is the synthesized source for one configuration.
type BuildUnit struct {
	Source  string
	Entries []Entry
	// Hash is blake3:<hex> of Source.
	Hash string
}

// Lookup returns the entry for name.
func (u *BuildUnit) Lookup(name string) (Entry, bool) {
	for _, e := range u.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// EntryAt returns the entry whose function spans source line line.
func (u *BuildUnit) EntryAt(line int) (Entry, bool) {
	for _, e := range u.Entries {
		if line >= e.StartLine && line <= e.EndLine {
			return e, true
		}
	}
	return Entry{}, false
}

type function struct {
	spec  funcspec.FunctionSpec
	stmts []string
}

// Synthesize builds the source unit for specs, in order.
func Synthesize(specs []funcspec.FunctionSpec) (*BuildUnit, error) {
	fns := make([]function, 0, len(specs))
	used := make(map[string]bool)
	for _, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
		stmts, err := SplitStatements(spec.Code)
		if err != nil {
			return nil, &SynthesisError{Kind: ErrUnbalancedDelimiter, Operation: spec.Name, Detail: err.Error()}
		}
		for _, s := range stmts {
			for name, re := range packageRefs {
				if re.MatchString(s) {
					used[name] = true
				}
			}
		}
		fns = append(fns, function{spec: spec, stmts: stmts})
	}

	var b sourceBuilder
	b.line("package %s", PackageName)

	if len(fns) > 0 {
		b.line("")
		b.line("import (")
		for _, p := range Packages {
			if used[p.Name] {
				b.line("\t%q", p.Path)
			}
		}
		b.line("\t%q", HostImportPath)
		b.line(")")

		anchored := false
		for _, p := range Packages {
			if used[p.Name] {
				if !anchored {
					b.line("")
					anchored = true
				}
				b.line("var _ = %s", p.Anchor)
			}
		}
	}

	entries := make([]Entry, 0, len(fns))
	for _, fn := range fns {
		b.line("")
		entries = append(entries, b.function(fn))
	}

	src := b.String()
	sum := blake3.Sum256([]byte(src))
	return &BuildUnit{
		Source:  src,
		Entries: entries,
		Hash:    "blake3:" + hex.EncodeToString(sum[:]),
	}, nil
}

func validateSpec(spec funcspec.FunctionSpec) error {
	if err := checkIdentifier(spec.Name); err != nil {
		return &SynthesisError{Kind: ErrInvalidIdentifier, Operation: spec.Name, Detail: "operation name " + err.Error()}
	}
	if !spec.ReturnType.Valid() {
		return &SynthesisError{Kind: ErrInvalidIdentifier, Operation: spec.Name, Detail: fmt.Sprintf("unsupported return type %q", spec.ReturnType)}
	}
	seen := make(map[string]bool, len(spec.Parameters))
	for _, p := range spec.Parameters {
		if err := checkIdentifier(p); err != nil {
			return &SynthesisError{Kind: ErrInvalidIdentifier, Operation: spec.Name, Detail: "parameter " + err.Error()}
		}
		if reserved(p) {
			return &SynthesisError{Kind: ErrInvalidIdentifier, Operation: spec.Name, Detail: fmt.Sprintf("parameter %q shadows a built-in package", p)}
		}
		if seen[p] {
			return &SynthesisError{Kind: ErrInvalidIdentifier, Operation: spec.Name, Detail: fmt.Sprintf("parameter %q declared twice", p)}
		}
		seen[p] = true
	}
	return nil
}

func checkIdentifier(name string) error {
	if !token.IsIdentifier(name) {
		return fmt.Errorf("%q is not a valid identifier", name)
	}
	if strings.HasPrefix(name, "__") {
		return fmt.Errorf("%q uses the reserved __ prefix", name)
	}
	return nil
}

func reserved(name string) bool {
	if name == "host" {
		return true
	}
	for _, p := range Packages {
		if p.Name == name {
			return true
		}
	}
	return false
}

type sourceBuilder struct {
	sb    strings.Builder
	lines int
}

func (b *sourceBuilder) line(format string, args ...any) {
	if len(args) == 0 {
		b.sb.WriteString(format)
	} else {
		fmt.Fprintf(&b.sb, format, args...)
	}
	b.sb.WriteByte('\n')
	b.lines++
}

// raw writes s, which may span several lines.
func (b *sourceBuilder) raw(s string) {
	b.sb.WriteString(s)
	b.sb.WriteByte('\n')
	b.lines += strings.Count(s, "\n") + 1
}

func (b *sourceBuilder) String() string { return b.sb.String() }

func (b *sourceBuilder) function(fn function) Entry {
	spec := fn.spec
	start := b.lines + 1

	if spec.Description != "" {
		for _, l := range strings.Split(spec.Description, "\n") {
			b.line("// %s", strings.TrimSpace(l))
		}
	}

	params := make([]string, 0, len(spec.Parameters)+1)
	params = append(params, "__call *host.Call")
	for _, p := range spec.Parameters {
		params = append(params, p+" string")
	}

	symbol := SymbolPrefix + spec.Name
	goType := spec.ReturnType.GoType()
	if goType == "" {
		b.line("func %s(%s) {", symbol, strings.Join(params, ", "))
	} else {
		b.line("func %s(%s) (__result %s) {", symbol, strings.Join(params, ", "), goType)
	}

	b.line("\tdefer func() {")
	b.line("\t\tif r := recover(); r != nil {")
	b.line("\t\t\t__call.Fail(r)")
	switch spec.ReturnType {
	case funcspec.ReturnString:
		b.line("\t\t\t__result = \"\"")
	case funcspec.ReturnBool:
		b.line("\t\t\t__result = false")
	}
	b.line("\t\t}")
	b.line("\t}()")

	for _, stmt := range fn.stmts {
		b.raw("\t" + strings.ReplaceAll(stmt, "\n", "\n\t"))
	}
	if goType != "" {
		b.line("\treturn")
	}
	b.line("}")

	return Entry{
		Name:        spec.Name,
		Symbol:      symbol,
		Params:      append([]string(nil), spec.Parameters...),
		ReturnType:  spec.ReturnType,
		Description: spec.Description,
		StartLine:   start,
		EndLine:     b.lines,
	}
}
