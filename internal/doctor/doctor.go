// Package doctor checks a switchboard configuration and its functions
// document without starting the service.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/funcspec"
	"github.com/mattjoyce/switchboard/internal/loader"
	"github.com/mattjoyce/switchboard/internal/storage"
	"github.com/mattjoyce/switchboard/internal/synth"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid      bool     `json:"valid"`
	Operations []string `json:"operations,omitempty"`
	Errors     []Issue  `json:"errors,omitempty"`
	Warnings   []Issue  `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration and the document it points at.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result. Handler bodies are compiled
// in a throwaway registry; nothing is executed.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	if specs, ok := d.validateDocument(r); ok {
		d.validateBuild(ctx, r, specs)
		d.warnUnusedParameters(r, specs)
		d.warnUndocumented(r, specs)
		d.validateWebhooks(r, specs)
		d.warnUnknownCallScopes(r, specs)
	}
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)
	d.warnRuntimeBounds(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required paths.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Functions.Path == "" {
		d.addError(r, "service", "functions.path", "functions.path is required")
	}
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Runtime.ArtifactDir == "" {
		d.addError(r, "service", "runtime.artifact_dir", "runtime.artifact_dir is required")
	}
	for _, p := range []struct{ setting, path string }{
		{"state.path", d.cfg.State.Path},
		{"runtime.artifact_dir", d.cfg.Runtime.ArtifactDir},
	} {
		if p.path == "" || p.path == storage.MemoryPath {
			continue
		}
		var remote *storage.RemoteFSError
		if err := storage.RequireLocal(p.path, p.setting); errors.As(err, &remote) {
			d.addError(r, "service", p.setting, err.Error())
		}
	}
	if d.cfg.Functions.Watch && d.cfg.Functions.Debounce == 0 {
		d.addWarning(r, "service", "functions.debounce",
			"watch enabled without debounce; editors that write in several steps trigger several reloads")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %q, reachable beyond this host", d.cfg.API.Listen))
	}
}

// validateTokenScopes checks every scope against the ones the API enforces.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			if !auth.KnownScope(scope) {
				d.addError(r, "token_scopes", field, fmt.Sprintf("unknown scope %q", scope))
				continue
			}
			if strings.TrimSpace(scope) == auth.ScopeAll {
				d.addWarning(r, "token_scopes", field, "wildcard scope grants reload access")
			}
		}
	}
}

// validateDocument reads the functions document through the checksum pin and
// parses it.
func (d *Doctor) validateDocument(r *Result) ([]funcspec.FunctionSpec, bool) {
	if d.cfg.Functions.Path == "" {
		return nil, false
	}
	raw, err := d.cfg.Functions.ReadFunctions()
	if err != nil {
		d.addError(r, "functions", "functions.path", err.Error())
		return nil, false
	}
	specs, err := funcspec.ParseFormat(raw, funcspec.FormatForPath(d.cfg.Functions.Path))
	if err != nil {
		d.addError(r, "functions", "functions.path", err.Error())
		return nil, false
	}
	if len(specs) == 0 {
		d.addWarning(r, "functions", "functions.path", "document declares no operations")
	}
	return specs, true
}

// validateBuild synthesizes the handler source and compiles it.
func (d *Doctor) validateBuild(ctx context.Context, r *Result, specs []funcspec.FunctionSpec) {
	if _, err := synth.Synthesize(specs); err != nil {
		var serr *synth.SynthesisError
		field := ""
		if errors.As(err, &serr) && serr.Operation != "" {
			field = "operations." + serr.Operation
		}
		d.addError(r, "build", field, err.Error())
		return
	}

	reg := loader.New(loader.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(cctx)
	}()

	v, err := reg.LoadSpecs(ctx, specs, nil)
	if err != nil {
		d.addError(r, "build", "", err.Error())
		return
	}
	r.Operations = v.Operations()
}

// warnUnusedParameters flags declared parameters the body never mentions.
func (d *Doctor) warnUnusedParameters(r *Result, specs []funcspec.FunctionSpec) {
	for _, spec := range specs {
		for _, p := range spec.Parameters {
			re, err := regexp.Compile(`\b` + regexp.QuoteMeta(p) + `\b`)
			if err != nil {
				continue
			}
			if !re.MatchString(spec.Code) {
				d.addWarning(r, "functions", "operations."+spec.Name,
					fmt.Sprintf("parameter %q is never referenced", p))
			}
		}
	}
}

// warnUndocumented flags operations that publish no description.
func (d *Doctor) warnUndocumented(r *Result, specs []funcspec.FunctionSpec) {
	if !d.cfg.API.Enabled {
		return
	}
	for _, spec := range specs {
		if strings.TrimSpace(spec.Description) == "" {
			d.addWarning(r, "functions", "operations."+spec.Name,
				"no description; /openapi.json will document the operation by name only")
		}
	}
}

// validateWebhooks checks that call hooks target declared operations that
// accept exactly the payload argument.
func (d *Doctor) validateWebhooks(r *Result, specs []funcspec.FunctionSpec) {
	if d.cfg.Webhooks == nil {
		return
	}
	declared := make(map[string]funcspec.FunctionSpec, len(specs))
	for _, spec := range specs {
		declared[spec.Name] = spec
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		if ep.Action != "call" {
			continue
		}
		field := fmt.Sprintf("webhooks.endpoints[%d].operation", i)
		spec, ok := declared[ep.Operation]
		if !ok {
			d.addError(r, "webhooks", field,
				fmt.Sprintf("webhook %q targets operation %q which the document does not declare", ep.Path, ep.Operation))
			continue
		}
		if len(spec.Parameters) != 1 {
			d.addError(r, "webhooks", field,
				fmt.Sprintf("webhook %q targets operation %q which takes %d parameters, want 1 (the payload)",
					ep.Path, ep.Operation, len(spec.Parameters)))
		}
	}
}

// warnUnknownCallScopes flags call:<operation> scopes naming operations the
// document does not declare. They are not errors: a later reload may add them.
func (d *Doctor) warnUnknownCallScopes(r *Result, specs []funcspec.FunctionSpec) {
	declared := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		declared[spec.Name] = struct{}{}
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			op, ok := strings.CutPrefix(strings.TrimSpace(scope), auth.ScopeCallPrefix)
			if !ok {
				continue
			}
			if _, ok := declared[op]; !ok {
				d.addWarning(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("scope %q grants an operation the document does not declare", scope))
			}
		}
	}
}

// warnMissingEnvVars flags credentials that interpolated to nothing.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if strings.TrimSpace(token.Token) == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// warnRuntimeBounds flags settings that let a single call hold a version
// forever.
func (d *Doctor) warnRuntimeBounds(r *Result) {
	if d.cfg.Runtime.CallTimeout == 0 {
		d.addWarning(r, "runtime", "runtime.call_timeout",
			"no call timeout; a looping operation blocks its caller indefinitely")
	}
	if d.cfg.Runtime.DrainTimeout == 0 {
		d.addWarning(r, "runtime", "runtime.drain_timeout",
			"no drain timeout; shutdown waits for every in-flight call")
	}
	if d.cfg.Runtime.RuntimeFailure == "mask" {
		d.addWarning(r, "runtime", "runtime.runtime_failure",
			"mask policy reports failed calls as successful; failures appear only in logs")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Configuration valid (%d operations).\n", len(r.Operations))
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "Configuration valid (%d operations, %d warning(s))\n", len(r.Operations), len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
