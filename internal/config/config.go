// Package config loads and validates the conductor's YAML configuration
// file into the typed config structs declared in this package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Conductor     ConductorConfig     `yaml:"conductor"`
	Logging       LoggingConfig       `yaml:"logging"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ConductorConfig holds the tunables for the wrap/detect/forward/inject loop.
type ConductorConfig struct {
	Enabled bool `yaml:"enabled"`

	WrappedCommand string   `yaml:"wrappedCommand"`
	WrappedArgs    []string `yaml:"wrappedArgs"`

	// WrappedEnv is appended to the spawned process's environment as
	// literal NAME=VALUE entries, applied after the default color-forcing
	// hint so a document entry (e.g. "FORCE_COLOR=0") can override it.
	WrappedEnv []string `yaml:"wrappedEnv"`

	BufferFlushIntervalMs int    `yaml:"bufferFlushIntervalMs"`
	MaxBufferSize         string `yaml:"maxBufferSize"`

	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Auth     AuthConfig     `yaml:"auth"`
	Browser  BrowserConfig  `yaml:"browser"`

	// GatewayAddr is the bind address for the RPC facade's HTTP/websocket
	// listener. Empty disables the gateway entirely.
	GatewayAddr string `yaml:"gatewayAddr"`

	// AuditLog defaults to true; a *bool distinguishes "unset" from an
	// explicit "auditLog: false" in the document, which a plain bool
	// cannot.
	AuditLog     *bool  `yaml:"auditLog"`
	AuditLogPath string `yaml:"auditLogPath"`

	// AuditIntegrity is additive: an optional HMAC key source for the
	// audit log chain. Leaving Source empty disables chaining.
	AuditIntegrity AuditIntegrityConfig `yaml:"auditIntegrity"`
}

// AnalyzerConfig configures request classification.
type AnalyzerConfig struct {
	Provider            string   `yaml:"provider"` // gemini | openai | regex | local
	BaseURL             string   `yaml:"baseUrl"`  // defaulted per provider when empty
	APIKey              string   `yaml:"apiKey"`   // literal or secrets:// reference
	Model               string   `yaml:"model"`
	ConfidenceThreshold float64  `yaml:"confidenceThreshold"`
	Patterns            []string `yaml:"patterns"`
}

// defaultAnalyzerBaseURLs holds the classification endpoint used for a
// hosted provider when the document doesn't set analyzer.baseUrl.
var defaultAnalyzerBaseURLs = map[string]string{
	"gemini": "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
	"openai": "https://api.openai.com/v1/chat/completions",
}

// AuthTarget is one configured authorization delivery endpoint.
type AuthTarget struct {
	Channel   string `yaml:"channel"`
	To        string `yaml:"to"`
	AccountID string `yaml:"accountId,omitempty"`
	ThreadID  string `yaml:"threadId,omitempty"`
}

// AuthConfig configures the Forwarder.
type AuthConfig struct {
	Targets             []AuthTarget `yaml:"targets"`
	TimeoutMs           int          `yaml:"timeoutMs"`
	AutoApprovePatterns []string     `yaml:"autoApprovePatterns"`
	AutoDenyPatterns    []string     `yaml:"autoDenyPatterns"`
}

// BrowserConfig configures the Executor's action-list dispatch.
type BrowserConfig struct {
	Profile            string `yaml:"profile"`
	Headless           bool   `yaml:"headless"`
	ActionTimeoutMs    int    `yaml:"actionTimeoutMs"`
	CaptureScreenshots bool   `yaml:"captureScreenshots"`
}

// AuditIntegrityConfig selects the key source backing the audit log's
// HMAC chain (see internal/audit/kms.Config).
type AuditIntegrityConfig struct {
	Source    string `yaml:"source"` // file, env, aws_kms, azure_keyvault, hashicorp_vault, gcp_kms
	KeyFile   string `yaml:"keyFile"`
	KeyEnv    string `yaml:"keyEnv"`
	Algorithm string `yaml:"algorithm"` // hmac-sha256 (default) | hmac-sha512

	AWSKeyID            string `yaml:"awsKeyId"`
	AWSRegion           string `yaml:"awsRegion"`
	AWSEncryptedDEKFile string `yaml:"awsEncryptedDekFile"`

	AzureVaultURL   string `yaml:"azureVaultUrl"`
	AzureKeyName    string `yaml:"azureKeyName"`
	AzureKeyVersion string `yaml:"azureKeyVersion"`

	VaultAddress    string `yaml:"vaultAddress"`
	VaultAuthMethod string `yaml:"vaultAuthMethod"`
	VaultTokenFile  string `yaml:"vaultTokenFile"`
	VaultK8sRole    string `yaml:"vaultK8sRole"`
	VaultAppRoleID  string `yaml:"vaultAppRoleId"`
	VaultSecretID   string `yaml:"vaultSecretId"`
	VaultSecretPath string `yaml:"vaultSecretPath"`
	VaultKeyField   string `yaml:"vaultKeyField"`

	GCPKeyName          string `yaml:"gcpKeyName"`
	GCPEncryptedDEKFile string `yaml:"gcpEncryptedDekFile"`
}

// LoggingConfig configures the root slog logger.
type LoggingConfig struct {
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"` // text | json
	Output   string         `yaml:"output"` // stderr | path
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig configures lumberjack-based log/audit file rotation.
type RotationConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxSizeMB  int  `yaml:"maxSizeMb"`
	MaxAgeDays int  `yaml:"maxAgeDays"`
	MaxBackups int  `yaml:"maxBackups"`
	Compress   bool `yaml:"compress"`
}

// SecretsConfig configures which secrets:// providers are available to
// resolve references found elsewhere in this document (notably
// analyzer.apiKey and auditIntegrity.*).
type SecretsConfig struct {
	AWS   *SecretsAWSConfig   `yaml:"aws,omitempty"`
	Azure *SecretsAzureConfig `yaml:"azure,omitempty"`
	Vault *SecretsVaultConfig `yaml:"vault,omitempty"`
}

type SecretsAWSConfig struct {
	Region  string `yaml:"region"`
	RoleARN string `yaml:"roleArn,omitempty"`
}

type SecretsAzureConfig struct {
	VaultURL string `yaml:"vaultUrl"`
}

type SecretsVaultConfig struct {
	Address    string `yaml:"address"`
	AuthMethod string `yaml:"authMethod"`
	TokenFile  string `yaml:"tokenFile,omitempty"`
	K8sRole    string `yaml:"k8sRole,omitempty"`
	AppRoleID  string `yaml:"appRoleId,omitempty"`
	SecretID   string `yaml:"secretId,omitempty"`
}

// ObservabilityConfig configures the OTEL tracer and, optionally, the
// audit log's OTLP mirror.
type ObservabilityConfig struct {
	Enabled bool       `yaml:"enabled"`
	Tracing OTLPConfig `yaml:"tracing"`
	Audit   OTLPConfig `yaml:"audit"`
}

// OTLPConfig configures one OTLP exporter endpoint.
type OTLPConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"` // grpc | http
	Headers     map[string]string `yaml:"headers"`
	TLSEnabled  bool              `yaml:"tlsEnabled"`
	TLSCertFile string            `yaml:"tlsCertFile"`
	TLSKeyFile  string            `yaml:"tlsKeyFile"`
	TLSInsecure bool              `yaml:"tlsInsecure"`
}

// Default returns a Config with every documented default applied.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads and parses the YAML file at path, applying defaults and
// validating the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(b)
}

// LoadFromBytes parses YAML already in memory, applying defaults and
// validating the result. Used directly by tests that would otherwise
// need a throwaway file on disk.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Conductor.WrappedCommand == "" {
		cfg.Conductor.WrappedCommand = "claude"
	}
	if cfg.Conductor.WrappedArgs == nil {
		cfg.Conductor.WrappedArgs = []string{}
	}
	if cfg.Conductor.BufferFlushIntervalMs <= 0 {
		cfg.Conductor.BufferFlushIntervalMs = 2000
	}
	if cfg.Conductor.MaxBufferSize == "" {
		cfg.Conductor.MaxBufferSize = "8192"
	}
	if cfg.Conductor.Analyzer.Provider == "" {
		cfg.Conductor.Analyzer.Provider = "gemini"
	}
	if cfg.Conductor.Analyzer.ConfidenceThreshold <= 0 {
		cfg.Conductor.Analyzer.ConfidenceThreshold = 0.7
	}
	if cfg.Conductor.Analyzer.BaseURL == "" {
		cfg.Conductor.Analyzer.BaseURL = defaultAnalyzerBaseURLs[cfg.Conductor.Analyzer.Provider]
	}
	if cfg.Conductor.Auth.TimeoutMs <= 0 {
		cfg.Conductor.Auth.TimeoutMs = 120000
	}
	if cfg.Conductor.Browser.Profile == "" {
		cfg.Conductor.Browser.Profile = "openclaw"
	}
	if cfg.Conductor.Browser.ActionTimeoutMs <= 0 {
		cfg.Conductor.Browser.ActionTimeoutMs = 30000
	}
	if cfg.Conductor.GatewayAddr == "" {
		cfg.Conductor.GatewayAddr = "127.0.0.1:8088"
	}
	if cfg.Conductor.AuditLog == nil {
		t := true
		cfg.Conductor.AuditLog = &t
	}
	if cfg.Conductor.AuditLogPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Conductor.AuditLogPath = home + "/.openclaw/conductor-audit.jsonl"
	}
	if cfg.Conductor.AuditIntegrity.Algorithm == "" {
		cfg.Conductor.AuditIntegrity.Algorithm = "hmac-sha256"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Logging.Rotation.MaxSizeMB == 0 {
		cfg.Logging.Rotation.MaxSizeMB = 100
	}
	if cfg.Logging.Rotation.MaxBackups == 0 {
		cfg.Logging.Rotation.MaxBackups = 5
	}
}

func validateConfig(cfg *Config) error {
	var errs []error

	switch cfg.Conductor.Analyzer.Provider {
	case "gemini", "openai", "regex", "local":
	default:
		errs = append(errs, fmt.Errorf("invalid conductor.analyzer.provider %q", cfg.Conductor.Analyzer.Provider))
	}
	if cfg.Conductor.Analyzer.ConfidenceThreshold < 0 || cfg.Conductor.Analyzer.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("conductor.analyzer.confidenceThreshold must be in [0,1], got %v", cfg.Conductor.Analyzer.ConfidenceThreshold))
	}
	if _, err := ParseByteSize(cfg.Conductor.MaxBufferSize); err != nil {
		errs = append(errs, fmt.Errorf("conductor.maxBufferSize: %w", err))
	}
	for _, t := range cfg.Conductor.Auth.Targets {
		if t.Channel == "" || t.To == "" {
			errs = append(errs, fmt.Errorf("conductor.auth.targets entry missing channel or to: %+v", t))
		}
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format %q", cfg.Logging.Format))
	}
	if src := cfg.Conductor.AuditIntegrity.Source; src != "" {
		switch src {
		case "file", "env", "aws_kms", "azure_keyvault", "hashicorp_vault", "gcp_kms":
		default:
			errs = append(errs, fmt.Errorf("invalid conductor.auditIntegrity.source %q", src))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

// BufferFlushInterval returns Conductor.BufferFlushIntervalMs as a
// time.Duration.
func (c ConductorConfig) BufferFlushInterval() time.Duration {
	return time.Duration(c.BufferFlushIntervalMs) * time.Millisecond
}

// AuthTimeout returns Conductor.Auth.TimeoutMs as a time.Duration.
func (c ConductorConfig) AuthTimeout() time.Duration {
	return time.Duration(c.Auth.TimeoutMs) * time.Millisecond
}

// ActionTimeout returns Conductor.Browser.ActionTimeoutMs as a
// time.Duration.
func (c ConductorConfig) ActionTimeout() time.Duration {
	return time.Duration(c.Browser.ActionTimeoutMs) * time.Millisecond
}

// MaxBufferSizeBytes parses Conductor.MaxBufferSize (accepts a plain
// integer or a suffixed size like "8KiB"). Validated already by
// validateConfig when loaded through Load/LoadFromBytes.
func (c ConductorConfig) MaxBufferSizeBytes() int64 {
	n, _ := ParseByteSize(c.MaxBufferSize)
	return n
}

// AuditLogEnabled reports the effective auditLog setting, treating an
// unset field (nil, e.g. when constructing ConductorConfig by hand
// rather than through Load) as enabled.
func (c ConductorConfig) AuditLogEnabled() bool {
	return c.AuditLog == nil || *c.AuditLog
}
