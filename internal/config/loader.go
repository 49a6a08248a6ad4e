package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/storage"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigDirEnv overrides config discovery.
const ConfigDirEnv = "SWITCHBOARD_CONFIG_DIR"

// Load reads and parses configuration from a file. A directory is accepted
// if it contains config.yaml. Relative paths in the file resolve against the
// file's directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Path = absPath
	resolvePaths(cfg, filepath.Dir(absPath))
	return cfg, nil
}

// Parse decodes YAML config bytes, applies defaults and validates. Relative
// paths are left as written.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Discover finds config.yaml by checking standard locations.
// Priority order: $SWITCHBOARD_CONFIG_DIR, ~/.config/switchboard, ./config.yaml.
func Discover() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		path := filepath.Join(dir, "config.yaml")
		if fileExists(path) {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(homeDir, ".config", "switchboard", "config.yaml")
		if fileExists(path) {
			return path, nil
		}
	}

	if fileExists("config.yaml") {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/switchboard, ./config.yaml)", ConfigDirEnv)
}

// applyConfigDefaults fills zero values the document left out.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Functions.Path == "" {
		cfg.Functions.Path = defaults.Functions.Path
	}
	if cfg.Functions.Debounce == 0 {
		cfg.Functions.Debounce = defaults.Functions.Debounce
	}
	if cfg.Runtime.RuntimeFailure == "" {
		cfg.Runtime.RuntimeFailure = defaults.Runtime.RuntimeFailure
	}
	if cfg.Runtime.ArtifactDir == "" {
		cfg.Runtime.ArtifactDir = defaults.Runtime.ArtifactDir
	}
	if cfg.Runtime.DrainTimeout == 0 {
		cfg.Runtime.DrainTimeout = defaults.Runtime.DrainTimeout
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	cfg.Functions.Checksum = strings.ToLower(strings.TrimSpace(cfg.Functions.Checksum))
}

// resolvePaths makes file paths absolute relative to baseDir.
func resolvePaths(cfg *Config, baseDir string) {
	cfg.Functions.Path = resolve(baseDir, cfg.Functions.Path)
	cfg.Runtime.ArtifactDir = resolve(baseDir, cfg.Runtime.ArtifactDir)
	if cfg.State.Path != storage.MemoryPath {
		cfg.State.Path = resolve(baseDir, cfg.State.Path)
	}
	if cfg.Service.LogFile != "" {
		cfg.Service.LogFile = resolve(baseDir, cfg.Service.LogFile)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the variable.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Functions.Debounce < 0 {
		return fmt.Errorf("functions.debounce must not be negative")
	}
	if sum := cfg.Functions.Checksum; sum != "" && !isHexDigest(sum) {
		return fmt.Errorf("functions.checksum must be a 64-character hex BLAKE3 digest")
	}

	switch cfg.Runtime.RuntimeFailure {
	case "report", "mask":
	default:
		return fmt.Errorf("runtime.runtime_failure must be one of: report, mask (got %q)", cfg.Runtime.RuntimeFailure)
	}
	if cfg.Runtime.CallTimeout < 0 {
		return fmt.Errorf("runtime.call_timeout must not be negative")
	}
	if cfg.Runtime.DrainTimeout < 0 {
		return fmt.Errorf("runtime.drain_timeout must not be negative")
	}
	if cfg.Runtime.CallLogRetention < 0 {
		return fmt.Errorf("runtime.call_log_retention must not be negative")
	}

	if cfg.API.Enabled {
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth requires api_key or tokens when api.enabled is true")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes is required", field)
			}
			for _, scope := range tok.Scopes {
				if !auth.KnownScope(scope) {
					return fmt.Errorf("%s: unknown scope %q", field, scope)
				}
			}
		}
	}

	if wc := cfg.Webhooks; wc != nil && len(wc.Endpoints) > 0 {
		if wc.Listen == "" {
			return fmt.Errorf("webhooks.listen is required when endpoints are configured")
		}
		seen := make(map[string]int, len(wc.Endpoints))
		for i, ep := range wc.Endpoints {
			field := fmt.Sprintf("webhooks.endpoints[%d]", i)
			if !strings.HasPrefix(ep.Path, "/") {
				return fmt.Errorf("%s.path must start with /", field)
			}
			normalized := strings.TrimSuffix(ep.Path, "/")
			if prev, dup := seen[normalized]; dup {
				return fmt.Errorf("%s.path %q conflicts with webhooks.endpoints[%d]", field, ep.Path, prev)
			}
			seen[normalized] = i
			switch ep.Action {
			case "reload":
			case "call":
				if ep.Operation == "" {
					return fmt.Errorf("%s.operation is required for action call", field)
				}
			default:
				return fmt.Errorf("%s.action must be one of: reload, call (got %q)", field, ep.Action)
			}
			if ep.Secret == "" {
				return fmt.Errorf("%s.secret is required", field)
			}
			if err := unresolved(field+".secret", ep.Secret); err != nil {
				return err
			}
		}
	}

	return nil
}

func unresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// TokenConfigs converts configured tokens for the auth package.
func (c APIAuthConfig) TokenConfigs() []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
