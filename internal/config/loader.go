package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for toolchest.yaml/.yml in the working
// directory, then config.yaml/.yml under the toolchest home. The search requires
// an explicit YAML extension to avoid matching the binary itself, which Viper's
// built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("toolchest")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOOLCHEST_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("TOOLCHEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a toolchest config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "toolchest" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	bases := []string{
		"toolchest",
		filepath.Join(home, ".toolchest", "config"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\toolchest (typically C:\ProgramData\toolchest)
		if pd := os.Getenv("ProgramData"); pd != "" {
			bases = append(bases, filepath.Join(pd, "toolchest", "config"))
		}
	} else {
		bases = append(bases, filepath.Join("/etc/toolchest", "config"))
	}
	return findConfigFileInPaths(bases)
}

// findConfigFileInPaths tries each extension-less base path with .yaml then
// .yml appended. Returns the first match, or empty string if none found.
func findConfigFileInPaths(bases []string) string {
	for _, base := range bases {
		for _, ext := range []string{".yaml", ".yml"} {
			path := base + ext
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// This enables overriding nested config values via environment variables.
// Example: TOOLCHEST_SERVER_HTTP_ADDR overrides server.http_addr
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.shutdown_timeout")

	// Storage config
	_ = viper.BindEnv("storage.db_path")

	// Runner config
	_ = viper.BindEnv("runner.exec_timeout")
	_ = viper.BindEnv("runner.max_steps")

	// Installer config
	_ = viper.BindEnv("installer.workdir")
	_ = viper.BindEnv("installer.retention")
	_ = viper.BindEnv("installer.clean_interval")
	_ = viper.BindEnv("installer.command_timeout")

	// LLM config
	_ = viper.BindEnv("llm.base_url")
	_ = viper.BindEnv("llm.api_key")
	_ = viper.BindEnv("llm.model")
	_ = viper.BindEnv("llm.embed_model")
	_ = viper.BindEnv("llm.timeout")
	_ = viper.BindEnv("llm.max_retries")

	// Workflow config
	_ = viper.BindEnv("workflow.max_retries")
	_ = viper.BindEnv("workflow.retry_base_delay")
	_ = viper.BindEnv("workflow.retry_max_delay")
	_ = viper.BindEnv("workflow.execution_retention")

	// Telemetry config
	_ = viper.BindEnv("telemetry.enabled")

	// Note: auth.api_keys is an array, complex to override via env
	// Users should use config file for API keys

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
		// This allows running with pure environment variable configuration
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply default values for optional fields
	cfg.SetDefaults()

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
