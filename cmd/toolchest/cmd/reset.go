package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolchest-labs/toolchest/internal/config"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset toolchest to a clean state",
	Long: `Reset toolchest by removing the database and the dependency cache.

This deletes every tool, category, workflow, execution history entry,
and event, plus all cached dependency installs. On next start,
toolchest boots with an empty catalog.

Examples:
  # Reset with interactive confirmation
  toolchest reset

  # Reset without prompting
  toolchest reset --yes`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}

	// Build list of targets to remove. WAL mode leaves -wal and -shm
	// sidecars next to the database file.
	type target struct {
		path string
		desc string
	}
	var targets []target
	if cfg.Storage.DBPath != "" {
		targets = append(targets,
			target{cfg.Storage.DBPath, "database"},
			target{cfg.Storage.DBPath + "-wal", "database WAL"},
			target{cfg.Storage.DBPath + "-shm", "database shared memory"},
		)
	}
	if cfg.Installer.Workdir != "" {
		targets = append(targets, target{cfg.Installer.Workdir, "dependency cache"})
	}

	// Check what actually exists.
	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no data files found.")
		return nil
	}

	// Show what will be removed.
	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	// Confirm unless --yes.
	if !resetYes {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	// Remove targets.
	var errors int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			errors++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if errors > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errors)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. toolchest will start fresh on next launch.")
	return nil
}
