package doctor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/switchboard/internal/config"
)

const validFunctions = `{"functions":[
	{"name":"echo","parameters":["msg"],"returnType":"string","code":"return msg","description":"Echo a message"},
	{"name":"ping","returnType":"bool","code":"return true","description":"Liveness"}
]}`

func validConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Functions.Path = filepath.Join(dir, "functions.json")
	cfg.State.Path = filepath.Join(dir, "state.db")
	cfg.Runtime.ArtifactDir = filepath.Join(dir, "handlers")
	cfg.Runtime.CallTimeout = 5 * time.Second
	if err := os.WriteFile(cfg.Functions.Path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t, validFunctions)).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
	if strings.Join(r.Operations, ",") != "echo,ping" {
		t.Fatalf("operations = %v", r.Operations)
	}
}

func TestValidate_MissingPaths(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.State.Path = ""
	cfg.Runtime.ArtifactDir = ""
	r := New(cfg).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "service", "state.path")
	assertHasError(t, r, "service", "runtime.artifact_dir")
}

func TestValidate_MissingDocument(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.Functions.Path = filepath.Join(t.TempDir(), "absent.json")
	r := New(cfg).Validate(context.Background())
	assertHasError(t, r, "functions", "failed to read functions document")
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.Functions.Checksum = config.HashBytes([]byte("something else"))
	r := New(cfg).Validate(context.Background())
	assertHasError(t, r, "functions", "hash mismatch")
}

func TestValidate_MalformedDocument(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t, `{"functions":{}}`)).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "functions", "malformed config")
}

func TestValidate_DuplicateNames(t *testing.T) {
	t.Parallel()
	doc := `{"functions":[{"name":"a","code":"x"},{"name":"a","code":"y"}]}`
	r := New(validConfig(t, doc)).Validate(context.Background())
	assertHasError(t, r, "functions", "duplicate")
}

func TestValidate_UnbalancedSnippet(t *testing.T) {
	t.Parallel()
	doc := `{"functions":[{"name":"bad","returnType":"string","code":"return (\"x\""}]}`
	r := New(validConfig(t, doc)).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "build", "unbalanced delimiter")
	if r.Errors[0].Field != "operations.bad" {
		t.Fatalf("field = %q, want operations.bad", r.Errors[0].Field)
	}
}

func TestValidate_CompileError(t *testing.T) {
	t.Parallel()
	doc := `{"functions":[{"name":"typo","returnType":"string","code":"return undefinedThing"}]}`
	r := New(validConfig(t, doc)).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "build", "undefinedThing")
}

func TestValidate_UnusedParameter(t *testing.T) {
	t.Parallel()
	doc := `{"functions":[{"name":"greet","parameters":["name","unused"],"returnType":"string","code":"return \"hi \" + name"}]}`
	r := New(validConfig(t, doc)).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "functions", `"unused"`)
	for _, w := range r.Warnings {
		if strings.Contains(w.Message, `"name"`) {
			t.Fatalf("referenced parameter reported unused: %v", w)
		}
	}
}

func TestValidate_UndocumentedWithAPI(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, `{"functions":[{"name":"bare","returnType":"bool","code":"return true"}]}`)
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"calls:rw"}}}
	r := New(cfg).Validate(context.Background())
	assertHasWarning(t, r, "functions", "no description")
}

func TestValidate_APIListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8080"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"calls:ro"}}}
	r := New(cfg).Validate(context.Background())
	assertHasWarning(t, r, "api", "reachable beyond this host")

	cfg.API.Listen = "not-an-address"
	r = New(cfg).Validate(context.Background())
	assertHasError(t, r, "api", "invalid listen address")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"plugin:rw"}},
		{Token: "b", Scopes: []string{"*"}},
		{Token: "", Scopes: []string{"events:ro"}},
	}
	r := New(cfg).Validate(context.Background())
	assertHasError(t, r, "token_scopes", `unknown scope "plugin:rw"`)
	assertHasWarning(t, r, "token_scopes", "wildcard")
	assertHasWarning(t, r, "env_vars", "token value is empty")
}

func TestValidate_CallScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"call:echo", "call:gone"}},
	}
	r := New(cfg).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("call scopes should only warn, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got: %v", r.Warnings)
	}
	assertHasWarning(t, r, "token_scopes", `"call:gone"`)
}

func TestValidate_DeprecatedAPIKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.API.Auth.APIKey = "legacy"
	r := New(cfg).Validate(context.Background())
	assertHasWarning(t, r, "deprecated", "legacy api_key")

	cfg.API.Auth.Tokens = []config.APIToken{{Token: "new-key", Scopes: []string{"calls:ro"}}}
	r = New(cfg).Validate(context.Background())
	assertHasWarning(t, r, "deprecated", "both")
}

func TestValidate_RuntimeBounds(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.Runtime.CallTimeout = 0
	cfg.Runtime.DrainTimeout = 0
	cfg.Runtime.RuntimeFailure = "mask"
	r := New(cfg).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("runtime bounds should only warn, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "runtime", "no call timeout")
	assertHasWarning(t, r, "runtime", "no drain timeout")
	assertHasWarning(t, r, "runtime", "mask policy")
}

func TestValidate_WatchWithoutDebounce(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.Functions.Watch = true
	cfg.Functions.Debounce = 0
	r := New(cfg).Validate(context.Background())
	assertHasWarning(t, r, "service", "without debounce")
}

func TestValidate_Webhooks(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validFunctions)
	cfg.Webhooks = &config.WebhooksConfig{
		Listen: "127.0.0.1:8091",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/hooks/deploy", Action: "reload", Secret: "s"},
			{Path: "/hooks/echo", Action: "call", Operation: "echo", Secret: "s"},
			{Path: "/hooks/missing", Action: "call", Operation: "missing", Secret: "s"},
			{Path: "/hooks/ping", Action: "call", Operation: "ping", Secret: "s"},
		},
	}
	r := New(cfg).Validate(context.Background())
	if len(r.Errors) != 2 {
		t.Fatalf("expected 2 errors, got: %v", r.Errors)
	}
	assertHasError(t, r, "webhooks", `operation "missing" which the document does not declare`)
	assertHasError(t, r, "webhooks", "takes 0 parameters")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true, Operations: []string{"echo"}}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid (1 operations)") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "iffy"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] iffy") {
		t.Fatalf("unexpected output: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
