package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// WriteFile marshals the configuration to YAML and writes it to path,
// creating parent directories as needed. Used by "toolchest config init"
// to seed a config file; field names in the output match what LoadConfig
// reads back.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy of the configuration with secret material
// masked, safe for printing. Key hashes are left in place: they are
// derived values, not secrets.
func (c *Config) Redacted() *Config {
	out := *c
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = "[redacted]"
	}
	out.Auth.APIKeys = slices.Clone(c.Auth.APIKeys)
	return &out
}
