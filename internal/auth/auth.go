// Package auth resolves bearer tokens to principals and checks their scopes.
//
// Scopes:
//   - "*": everything
//   - "calls:ro": list operations, read status
//   - "calls:rw": call any operation (implies calls:ro)
//   - "call:<operation>": call that one operation
//   - "reload:rw": reload the functions document (implies events:ro)
//   - "events:ro": stream events, read status
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"go/token"
	"net/http"
	"strings"
)

const (
	ScopeAll        = "*"
	ScopeCallsRead  = "calls:ro"
	ScopeCallsWrite = "calls:rw"
	ScopeReload     = "reload:rw"
	ScopeEvents     = "events:ro"

	// ScopeCallPrefix prefixes a scope that grants one operation.
	ScopeCallPrefix = "call:"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

// Has reports whether p holds any of required, or "*". No requirement always
// passes.
func (p Principal) Has(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

// CanCall reports whether p may invoke operation.
func (p Principal) CanCall(operation string) bool {
	return p.Has(ScopeCallsWrite, CallScope(operation))
}

// CallScope is the scope granting operation alone.
func CallScope(operation string) string {
	return ScopeCallPrefix + operation
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	tok := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if tok == "" {
		return "", errors.New("missing API key")
	}
	return tok, nil
}

// Keyring holds the configured credentials with their scopes expanded.
type Keyring struct {
	entries []Principal
}

// NewKeyring builds a keyring. A non-empty apiKey authenticates with "*".
// Tokens with an empty value are skipped.
func NewKeyring(apiKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if apiKey != "" {
		k.entries = append(k.entries, Principal{
			Token:  apiKey,
			Scopes: map[string]struct{}{ScopeAll: {}},
		})
	}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.entries = append(k.entries, Principal{Token: t.Token, Scopes: expandScopes(t.Scopes)})
	}
	return k
}

// Authenticate returns the principal for presented. Every entry is compared
// so timing does not reveal which one matched.
func (k *Keyring) Authenticate(presented string) (Principal, bool) {
	var (
		found Principal
		ok    bool
	)
	if presented == "" {
		return found, false
	}
	for _, e := range k.entries {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(e.Token)) == 1 && !ok {
			found, ok = e, true
		}
	}
	return found, ok
}

// KnownScope reports whether scope is one the API checks for.
func KnownScope(scope string) bool {
	scope = strings.TrimSpace(scope)
	switch scope {
	case ScopeAll, ScopeCallsRead, ScopeCallsWrite, ScopeReload, ScopeEvents:
		return true
	}
	if op, ok := strings.CutPrefix(scope, ScopeCallPrefix); ok {
		return token.IsIdentifier(op)
	}
	return false
}

func expandScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}

	if _, ok := out[ScopeCallsWrite]; ok {
		out[ScopeCallsRead] = struct{}{}
	}
	if _, ok := out[ScopeReload]; ok {
		out[ScopeEvents] = struct{}{}
	}
	return out
}
