package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty document uses defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "switchboard" {
					t.Errorf("service.name = %q", cfg.Service.Name)
				}
				if cfg.Functions.Path != "./functions.json" {
					t.Errorf("functions.path = %q", cfg.Functions.Path)
				}
				if cfg.Functions.Debounce != 250*time.Millisecond {
					t.Errorf("functions.debounce = %v", cfg.Functions.Debounce)
				}
				if cfg.Runtime.RuntimeFailure != "report" {
					t.Errorf("runtime.runtime_failure = %q", cfg.Runtime.RuntimeFailure)
				}
				if cfg.API.Enabled {
					t.Error("api enabled by default")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: bridge
  log_level: debug
  log_file: ./logs/switchboard.log
functions:
  path: ./ops.yaml
  watch: true
  debounce: 1s
runtime:
  call_timeout: 2s
  runtime_failure: mask
  artifact_dir: ./gen
  drain_timeout: 3s
  call_log_retention: 24h
state:
  path: ":memory:"
api:
  enabled: true
  listen: 127.0.0.1:9090
  auth:
    api_key: secret
    tokens:
      - token: reader
        scopes: ["calls:ro"]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "bridge" || cfg.Service.LogLevel != "debug" {
					t.Errorf("service = %+v", cfg.Service)
				}
				if !cfg.Functions.Watch || cfg.Functions.Debounce != time.Second {
					t.Errorf("functions = %+v", cfg.Functions)
				}
				if cfg.Runtime.CallTimeout != 2*time.Second || cfg.Runtime.RuntimeFailure != "mask" {
					t.Errorf("runtime = %+v", cfg.Runtime)
				}
				if cfg.Runtime.CallLogRetention != 24*time.Hour {
					t.Errorf("call_log_retention = %v", cfg.Runtime.CallLogRetention)
				}
				if cfg.API.Listen != "127.0.0.1:9090" || len(cfg.API.Auth.Tokens) != 1 {
					t.Errorf("api = %+v", cfg.API)
				}
				tokens := cfg.API.Auth.TokenConfigs()
				if len(tokens) != 1 || tokens[0].Token != "reader" || tokens[0].Scopes[0] != "calls:ro" {
					t.Errorf("TokenConfigs() = %+v", tokens)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${SWITCHBOARD_TEST_KEY}
`,
			env: map[string]string{"SWITCHBOARD_TEST_KEY": "from-env"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "from-env" {
					t.Errorf("api_key = %q", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "unset env var",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${SWITCHBOARD_TEST_UNSET_KEY}
`,
			wantErr: "SWITCHBOARD_TEST_UNSET_KEY",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "bad runtime failure policy",
			yaml:    "runtime:\n  runtime_failure: ignore\n",
			wantErr: "runtime.runtime_failure",
		},
		{
			name:    "negative timeout",
			yaml:    "runtime:\n  call_timeout: -1s\n",
			wantErr: "runtime.call_timeout",
		},
		{
			name:    "api without credentials",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.auth requires",
		},
		{
			name: "unknown scope",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: x
        scopes: ["plugin:rw"]
`,
			wantErr: "unknown scope",
		},
		{
			name:    "bad checksum",
			yaml:    "functions:\n  checksum: abc\n",
			wantErr: "functions.checksum",
		},
		{
			name: "webhooks",
			yaml: `
webhooks:
  listen: 127.0.0.1:8091
  endpoints:
    - path: /hooks/deploy
      action: reload
      secret: ${SWITCHBOARD_TEST_HOOK}
    - path: /hooks/message
      action: call
      operation: process_message
      secret: literal
      max_body_size: 64KB
`,
			env: map[string]string{"SWITCHBOARD_TEST_HOOK": "hook-secret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Webhooks == nil || len(cfg.Webhooks.Endpoints) != 2 {
					t.Fatalf("webhooks = %+v", cfg.Webhooks)
				}
				if cfg.Webhooks.Endpoints[0].Secret != "hook-secret" {
					t.Errorf("secret = %q", cfg.Webhooks.Endpoints[0].Secret)
				}
				if ep := cfg.Webhooks.Endpoints[1]; ep.Operation != "process_message" || ep.MaxBodySize != "64KB" {
					t.Errorf("endpoint = %+v", ep)
				}
			},
		},
		{
			name:    "webhook without listen",
			yaml:    "webhooks:\n  endpoints:\n    - {path: /h, action: reload, secret: s}\n",
			wantErr: "webhooks.listen",
		},
		{
			name:    "webhook call without operation",
			yaml:    "webhooks:\n  listen: 127.0.0.1:8091\n  endpoints:\n    - {path: /h, action: call, secret: s}\n",
			wantErr: "operation is required",
		},
		{
			name:    "webhook bad action",
			yaml:    "webhooks:\n  listen: 127.0.0.1:8091\n  endpoints:\n    - {path: /h, action: enqueue, secret: s}\n",
			wantErr: "action must be one of",
		},
		{
			name:    "webhook path conflict",
			yaml:    "webhooks:\n  listen: 127.0.0.1:8091\n  endpoints:\n    - {path: /h, action: reload, secret: s}\n    - {path: /h/, action: reload, secret: t}\n",
			wantErr: "conflicts with",
		},
		{
			name:    "webhook unresolved secret",
			yaml:    "webhooks:\n  listen: 127.0.0.1:8091\n  endpoints:\n    - {path: /h, action: reload, secret: \"${SWITCHBOARD_TEST_UNSET_HOOK}\"}\n",
			wantErr: "SWITCHBOARD_TEST_UNSET_HOOK",
		},
		{
			name:    "unknown field",
			yaml:    "plugins_dir: ./plugins\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Parse() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Parse() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
functions:
  path: ./functions.json
runtime:
  artifact_dir: gen
state:
  path: /var/lib/switchboard/state.db
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("cfg.Path = %q, want %q", cfg.Path, path)
	}
	if want := filepath.Join(dir, "functions.json"); cfg.Functions.Path != want {
		t.Errorf("functions.path = %q, want %q", cfg.Functions.Path, want)
	}
	if want := filepath.Join(dir, "gen"); cfg.Runtime.ArtifactDir != want {
		t.Errorf("runtime.artifact_dir = %q, want %q", cfg.Runtime.ArtifactDir, want)
	}
	if cfg.State.Path != "/var/lib/switchboard/state.db" {
		t.Errorf("absolute state.path rewritten to %q", cfg.State.Path)
	}
}

func TestLoadKeepsMemoryState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("state:\n  path: \":memory:\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.State.Path != ":memory:" {
		t.Errorf("state.path = %q", cfg.State.Path)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without config.yaml")
	}
}

func TestDiscoverPrefersEnvDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigDirEnv, dir)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if got != path {
		t.Errorf("Discover() = %q, want %q", got, path)
	}
}

func TestDiscoverNothing(t *testing.T) {
	t.Setenv(ConfigDirEnv, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	if _, err := Discover(); err == nil {
		t.Fatal("expected error when no config exists")
	}
}
