package config

import "time"

// Config represents the complete switchboard configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Functions FunctionsConfig `yaml:"functions"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api,omitempty"`
	Webhooks  *WebhooksConfig `yaml:"webhooks,omitempty"`

	// Path is the file this config was read from. Empty for Defaults().
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// LogFile enables rotating file output in addition to stderr.
	LogFile string `yaml:"log_file,omitempty"`
}

// FunctionsConfig points at the functions document.
type FunctionsConfig struct {
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
	// Checksum pins the document to a BLAKE3 hex digest. Loads of any other
	// content are refused.
	Checksum string `yaml:"checksum,omitempty"`
}

// RuntimeConfig controls how calls run.
type RuntimeConfig struct {
	// CallTimeout bounds each call. Zero disables the limit.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// RuntimeFailure is "report" or "mask".
	RuntimeFailure   string        `yaml:"runtime_failure"`
	ArtifactDir      string        `yaml:"artifact_dir"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	CallLogRetention time.Duration `yaml:"call_log_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the admin bearer token (full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines signed hook endpoints served on their own listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint maps a path to a reload or to one operation.
type WebhookEndpoint struct {
	Path string `yaml:"path"`
	// Action is "reload" or "call".
	Action string `yaml:"action"`
	// Operation receives the raw payload as its only argument when Action is
	// "call".
	Operation       string `yaml:"operation,omitempty"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// DeliveryHeader names the header whose value de-duplicates retried
	// deliveries.
	DeliveryHeader string `yaml:"delivery_header,omitempty"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "switchboard",
			LogLevel: "info",
		},
		Functions: FunctionsConfig{
			Path:     "./functions.json",
			Watch:    false,
			Debounce: 250 * time.Millisecond,
		},
		Runtime: RuntimeConfig{
			CallTimeout:      0,
			RuntimeFailure:   "report",
			ArtifactDir:      "./data/handlers",
			DrainTimeout:     10 * time.Second,
			CallLogRetention: 7 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
