package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/toolchest-labs/toolchest/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration toolchest would start with, after merging
the config file, TOOLCHEST_* environment variables, and CLI flags.

Secret values (the LLM API key) are masked. The output is valid input
for a config file, so it doubles as a way to snapshot the current setup:
  toolchest config show > toolchest.yaml`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with default values",
	Long: `Write a toolchest config file populated with default values.

With no argument, the file goes to $HOME/.toolchest/config.yaml, which
is on the config search path. Existing files are not overwritten unless
--force is given.

Examples:
  toolchest config init
  toolchest config init ./toolchest.yaml
  toolchest config init --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Same merge order as "toolchest start": file, env, flags, dev defaults.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	cfg.SetDevDefaults()

	// A broken config is exactly when an operator reaches for "show", so
	// validation problems go to stderr and the config still prints.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: config is not valid: %v\n\n", err)
	}

	if used := config.ConfigFileUsed(); used != "" {
		fmt.Fprintf(os.Stderr, "# loaded from %s\n", used)
	} else {
		fmt.Fprintln(os.Stderr, "# no config file found; defaults and environment only")
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".toolchest", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	var cfg config.Config
	cfg.SetDefaults()
	if err := cfg.WriteFile(path); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}
