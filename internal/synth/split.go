package synth

import (
	"fmt"
	"strings"
)

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

// splitError is converted to a SynthesisError by the caller, which knows the
// operation name.
type splitError struct {
	line, col int
	msg       string
}

func (e *splitError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.line, e.col, e.msg)
}

// SplitStatements breaks a snippet into top-level statements. Statements end at
// ';' or at a newline that would terminate a Go statement, but only outside
// string, raw string and rune literals, comments, and brackets. Comments are
// dropped. Empty statements are skipped.
func SplitStatements(code string) ([]string, error) {
	src := []rune(code)
	var (
		out   []string
		cur   strings.Builder
		stack []rune
		pos   []int
		// body is set once a top-level '{' opens, so header semicolons
		// in "for i := 0; i < n; i++ {" are kept.
		body bool
	)
	line, col := 1, 0

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		body = false
	}
	fail := func(l, c int, format string, args ...any) error {
		return &splitError{line: l, col: c, msg: fmt.Sprintf(format, args...)}
	}

	for i := 0; i < len(src); i++ {
		r := src[i]
		col++

		switch {
		case r == '"' || r == '\'':
			startLine, startCol := line, col
			cur.WriteRune(r)
			closed := false
			for i++; i < len(src); i++ {
				c := src[i]
				col++
				if c == '\n' {
					break
				}
				cur.WriteRune(c)
				if c == '\\' && i+1 < len(src) && src[i+1] != '\n' {
					i++
					col++
					cur.WriteRune(src[i])
					continue
				}
				if c == r {
					closed = true
					break
				}
			}
			if !closed {
				return nil, fail(startLine, startCol, "unterminated %s literal", literalName(r))
			}

		case r == '`':
			startLine, startCol := line, col
			cur.WriteRune(r)
			closed := false
			for i++; i < len(src); i++ {
				c := src[i]
				cur.WriteRune(c)
				if c == '\n' {
					line++
					col = 0
					continue
				}
				col++
				if c == '`' {
					closed = true
					break
				}
			}
			if !closed {
				return nil, fail(startLine, startCol, "unterminated raw string literal")
			}

		case r == '/' && i+1 < len(src) && src[i+1] == '/':
			for i+1 < len(src) && src[i+1] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(src) && src[i+1] == '*':
			startLine, startCol := line, col
			i += 2
			col += 2
			closed := false
			for ; i < len(src); i++ {
				if src[i] == '\n' {
					line++
					col = 0
					continue
				}
				col++
				if src[i] == '*' && i+1 < len(src) && src[i+1] == '/' {
					i++
					col++
					closed = true
					break
				}
			}
			if !closed {
				return nil, fail(startLine, startCol, "unterminated block comment")
			}
			cur.WriteRune(' ')

		case r == '(' || r == '[' || r == '{':
			if r == '{' && len(stack) == 0 {
				body = true
			}
			stack = append(stack, r)
			pos = append(pos, line, col)
			cur.WriteRune(r)

		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 {
				return nil, fail(line, col, "unexpected %q", r)
			}
			open := stack[len(stack)-1]
			if open != closers[r] {
				return nil, fail(line, col, "%q does not match %q", r, open)
			}
			stack = stack[:len(stack)-1]
			pos = pos[:len(pos)-2]
			cur.WriteRune(r)

		case r == ';' && len(stack) == 0:
			if !body && hasHeader(cur.String()) {
				cur.WriteRune(r)
				continue
			}
			flush()

		case r == '\n':
			if len(stack) == 0 && endsStatement(cur.String()) {
				flush()
			} else {
				cur.WriteRune(r)
			}
			line++
			col = 0

		default:
			cur.WriteRune(r)
		}
	}

	if len(stack) > 0 {
		n := len(pos)
		return nil, fail(pos[n-2], pos[n-1], "unclosed %q", stack[len(stack)-1])
	}
	flush()
	return out, nil
}

// endsStatement applies Go's semicolon rule to a pending line: a line that
// ends in an operator or comma continues on the next line.
func endsStatement(s string) bool {
	s = strings.TrimRight(s, " \t\r")
	if s == "" {
		return true
	}
	if strings.HasSuffix(s, "++") || strings.HasSuffix(s, "--") {
		return true
	}
	switch s[len(s)-1] {
	case '+', '-', '*', '/', '%', '&', '|', '^', '<', '>', '=', '!', ',', '.', ':':
		return false
	}
	return true
}

// hasHeader reports whether s opens a statement whose header may hold a
// simple statement followed by ';'.
func hasHeader(s string) bool {
	s = strings.TrimSpace(s)
	for _, kw := range []string{"for", "if", "switch"} {
		if strings.HasPrefix(s, kw) && len(s) > len(kw) && (s[len(kw)] == ' ' || s[len(kw)] == '\t') {
			return true
		}
	}
	return false
}

func literalName(quote rune) string {
	if quote == '\'' {
		return "rune"
	}
	return "string"
}
