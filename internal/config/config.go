// Package config provides the toolchest configuration schema: a single
// YAML file (plus TOOLCHEST_* environment overrides) covering the HTTP
// server, storage, the code runner, the dependency installer, the LLM
// backend, the workflow engine, and API-key auth.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level toolchest configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// DevMode enables development conveniences: debug logging and
	// API-key auth disabled regardless of configured keys.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`

	// Storage configures the SQLite database.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Runner configures the sandboxed code runner.
	Runner RunnerConfig `yaml:"runner" mapstructure:"runner"`

	// Installer configures the dependency installer and its cache.
	Installer InstallerConfig `yaml:"installer" mapstructure:"installer"`

	// LLM configures the OpenAI-compatible model backend. Optional:
	// when base_url is empty, semantic search, suggestions, and tool
	// drafting are disabled and everything else works.
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	// Workflow configures the workflow engine's retry policy and
	// execution retention.
	Workflow WorkflowConfig `yaml:"workflow" mapstructure:"workflow"`

	// Telemetry configures optional OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// Auth configures API-key authentication for mutating routes.
	// Optional: when no keys are configured, auth is disabled.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8420",
	// ":8420"). Defaults to "127.0.0.1:8420" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout is how long a graceful shutdown may take
	// (e.g., "10s"). Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// DBPath is the SQLite database file. Defaults to
	// "~/.toolchest/toolchest.db"; parent directories are created at
	// open time.
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// RunnerConfig configures the sandboxed code runner.
type RunnerConfig struct {
	// ExecTimeout is the wall-clock limit for one tool execution,
	// inclusive of dependency installation (e.g., "10s").
	// Defaults to "10s".
	ExecTimeout string `yaml:"exec_timeout" mapstructure:"exec_timeout" validate:"omitempty,duration"`

	// MaxSteps is the interpreter step budget per execution.
	// Defaults to 500000 if 0.
	MaxSteps uint64 `yaml:"max_steps" mapstructure:"max_steps"`
}

// InstallerConfig configures the dependency installer.
type InstallerConfig struct {
	// Workdir is where installed dependencies are cached. Defaults to
	// "~/.toolchest/deps".
	Workdir string `yaml:"workdir" mapstructure:"workdir"`

	// Retention is how long unused cached installs are kept before the
	// periodic clean removes them (e.g., "168h" = 7 days).
	// Defaults to "168h".
	Retention string `yaml:"retention" mapstructure:"retention" validate:"omitempty,duration"`

	// CleanInterval is how often the periodic clean runs (e.g., "12h").
	// Defaults to "12h".
	CleanInterval string `yaml:"clean_interval" mapstructure:"clean_interval" validate:"omitempty,duration"`

	// CommandTimeout bounds a single package-manager invocation
	// (e.g., "2m"). Defaults to "2m".
	CommandTimeout string `yaml:"command_timeout" mapstructure:"command_timeout" validate:"omitempty,duration"`
}

// LLMConfig configures the OpenAI-compatible model backend.
type LLMConfig struct {
	// BaseURL is the API root (e.g., "http://localhost:11434/v1" for
	// Ollama). Empty disables all LLM-backed features.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Model is used for chat completions. Defaults to "llama3.1".
	Model string `yaml:"model" mapstructure:"model"`

	// EmbedModel is used for embeddings. Defaults to
	// "nomic-embed-text".
	EmbedModel string `yaml:"embed_model" mapstructure:"embed_model"`

	// Timeout bounds a single request (e.g., "60s"). Defaults to "60s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// MaxRetries is how many times a failed request is retried.
	// Defaults to 3.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,min=0,max=10"`
}

// WorkflowConfig configures the workflow engine.
type WorkflowConfig struct {
	// MaxRetries is the default attempt count per step when the step
	// does not declare its own. Defaults to 3.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,min=1,max=10"`

	// RetryBaseDelay is the first retry backoff (e.g., "1s").
	// Defaults to "1s".
	RetryBaseDelay string `yaml:"retry_base_delay" mapstructure:"retry_base_delay" validate:"omitempty,duration"`

	// RetryMaxDelay caps the exponential backoff (e.g., "30s").
	// Defaults to "30s". Must be >= retry_base_delay.
	RetryMaxDelay string `yaml:"retry_max_delay" mapstructure:"retry_max_delay" validate:"omitempty,duration"`

	// ExecutionRetention is how long finished executions stay in the
	// live store before the cleanup loop drops them (e.g., "1h").
	// History in SQLite is unaffected. Defaults to "1h".
	ExecutionRetention string `yaml:"execution_retention" mapstructure:"execution_retention" validate:"omitempty,duration"`
}

// TelemetryConfig configures optional OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns trace and metric export on. Default: false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// AuthConfig configures API-key authentication.
type AuthConfig struct {
	// APIKeys lists the accepted keys as argon2id hashes. Generate
	// with "toolchest hash-key". When empty, mutating routes are open.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// APIKeyConfig is one accepted API key.
type APIKeyConfig struct {
	// Name labels the key in logs; never the key itself.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// KeyHash is the argon2id hash of the key, as printed by
	// "toolchest hash-key".
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,startswith=$argon2id$"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only. Users who need network
	// access must explicitly set http_addr: ":8420" or "0.0.0.0:8420".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8420"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	home, _ := os.UserHomeDir()
	if c.Storage.DBPath == "" && home != "" {
		c.Storage.DBPath = filepath.Join(home, ".toolchest", "toolchest.db")
	}

	if c.Runner.ExecTimeout == "" {
		c.Runner.ExecTimeout = "10s"
	}

	if c.Installer.Workdir == "" && home != "" {
		c.Installer.Workdir = filepath.Join(home, ".toolchest", "deps")
	}
	if c.Installer.Retention == "" {
		c.Installer.Retention = "168h"
	}
	if c.Installer.CleanInterval == "" {
		c.Installer.CleanInterval = "12h"
	}
	if c.Installer.CommandTimeout == "" {
		c.Installer.CommandTimeout = "2m"
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.1"
	}
	if c.LLM.EmbedModel == "" {
		c.LLM.EmbedModel = "nomic-embed-text"
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "60s"
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}

	if c.Workflow.MaxRetries == 0 {
		c.Workflow.MaxRetries = 3
	}
	if c.Workflow.RetryBaseDelay == "" {
		c.Workflow.RetryBaseDelay = "1s"
	}
	if c.Workflow.RetryMaxDelay == "" {
		c.Workflow.RetryMaxDelay = "30s"
	}
	if c.Workflow.ExecutionRetention == "" {
		c.Workflow.ExecutionRetention = "1h"
	}
}

// SetDevDefaults applies development-mode conveniences. Applied after
// SetDefaults and CLI flag overrides, before validation.
// viper.IsSet distinguishes "not set" (defaulted) from an explicit
// value in YAML or environment.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if !viper.IsSet("server.log_level") {
		c.Server.LogLevel = "debug"
	}
}

// AuthEnabled reports whether mutating routes require an API key:
// at least one key configured and dev mode off.
func (c *Config) AuthEnabled() bool {
	return !c.DevMode && len(c.Auth.APIKeys) > 0
}

// LLMEnabled reports whether a model backend is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.BaseURL != ""
}

// Duration parses s, falling back when s is empty or malformed.
// Validation guarantees parseability for loaded configs, so the
// fallback matters only for hand-built ones.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
