// Package cmd provides the CLI commands for toolchest.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolchest-labs/toolchest/internal/config"
)

var cfgFile string
var dbPath string

var rootCmd = &cobra.Command{
	Use:   "toolchest",
	Short: "toolchest - tool registry and workflow engine",
	Long: `toolchest is a registry and execution engine for small, sandboxed tools.

Tools are JSON-schema-typed snippets stored with their dependencies and
version history. toolchest validates inputs, installs dependencies,
runs the code in an isolated interpreter, and chains tools into
workflows with mappings, conditions, and retries.

Quick start:
  1. Run: toolchest start
  2. Open: http://localhost:8420/api/tools

Configuration:
  Config is loaded from toolchest.yaml in the current directory,
  $HOME/.toolchest/config.yaml, or /etc/toolchest/config.yaml.

  Environment variables can override config values with the TOOLCHEST_ prefix.
  Example: TOOLCHEST_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the HTTP server
  mcp         Serve the registry over MCP on stdio
  stop        Stop the running server
  reset       Reset to clean state (remove database and dependency cache)
  config      Inspect and generate configuration
  hash-key    Generate an API key and its argon2id hash
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolchest.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default: ~/.toolchest/toolchest.db)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
