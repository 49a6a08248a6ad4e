package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "padded", header: "Bearer   abc  ", want: "abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "basic", header: "Basic abc", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got, err := ExtractBearerToken(req)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.header)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got (%q, %v), want %q", got, err, tc.want)
			}
		})
	}
}

func TestKeyringAuthenticate(t *testing.T) {
	t.Parallel()

	k := NewKeyring("admin-key", []TokenConfig{
		{Token: "caller", Scopes: []string{ScopeCallsWrite}},
		{Token: "ops", Scopes: []string{" " + ScopeReload + " ", ""}},
		{Token: "", Scopes: []string{ScopeAll}},
	})

	admin, ok := k.Authenticate("admin-key")
	if !ok || !admin.Has(ScopeReload) {
		t.Fatalf("api key should authenticate as admin, got %+v ok=%v", admin, ok)
	}

	caller, ok := k.Authenticate("caller")
	if !ok {
		t.Fatal("expected caller token to authenticate")
	}
	if !caller.Has(ScopeCallsRead) {
		t.Fatal("calls:rw should imply calls:ro")
	}
	if caller.Has(ScopeReload, ScopeEvents) {
		t.Fatal("caller must not reload or watch events")
	}

	ops, ok := k.Authenticate("ops")
	if !ok || !ops.Has(ScopeEvents) {
		t.Fatalf("reload:rw should imply events:ro, got %+v", ops.Scopes)
	}

	if _, ok := k.Authenticate("nope"); ok {
		t.Fatal("unknown token must not authenticate")
	}
	if _, ok := k.Authenticate(""); ok {
		t.Fatal("empty token must not authenticate, even with an empty entry configured")
	}
	if _, ok := NewKeyring("", nil).Authenticate(""); ok {
		t.Fatal("empty keyring must not authenticate")
	}
}

func TestCanCall(t *testing.T) {
	t.Parallel()

	k := NewKeyring("", []TokenConfig{
		{Token: "echo-only", Scopes: []string{CallScope("echo")}},
		{Token: "all", Scopes: []string{ScopeCallsWrite}},
	})

	narrow, _ := k.Authenticate("echo-only")
	if !narrow.CanCall("echo") || narrow.CanCall("add") {
		t.Fatalf("call:echo should grant echo only, got %+v", narrow.Scopes)
	}
	if narrow.Has(ScopeCallsRead) {
		t.Fatal("a per-operation scope must not imply listing")
	}

	wide, _ := k.Authenticate("all")
	if !wide.CanCall("echo") || !wide.CanCall("add") {
		t.Fatal("calls:rw should grant every operation")
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := PrincipalFromContext(req.Context()); ok {
		t.Fatal("expected no principal")
	}
	ctx := WithPrincipal(req.Context(), Principal{Token: "x"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token != "x" {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
	if !p.Has() {
		t.Fatal("no required scopes should always pass")
	}
}

func TestKnownScope(t *testing.T) {
	for _, s := range []string{"*", "calls:ro", "calls:rw", "reload:rw", "events:ro", " calls:ro "} {
		if !KnownScope(s) {
			t.Errorf("KnownScope(%q) = false", s)
		}
	}
	if !KnownScope("call:process_message") {
		t.Error("KnownScope(call:process_message) = false")
	}
	for _, s := range []string{"plugin:rw", "call:", "call:bad-name"} {
		if KnownScope(s) {
			t.Errorf("KnownScope(%q) = true", s)
		}
	}
}
