// Package depcache persists a record of installed tool dependencies so
// repeated executions skip re-installation. Each cache entry is one
// JSON file under the cache directory; npm-style installations also own
// a working directory holding their node_modules tree.
package depcache

import (
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
)

// DefaultRetention is how long unused cache entries survive before
// Sweep removes them.
const DefaultRetention = 7 * 24 * time.Hour

// Entry records one installed dependency.
type Entry struct {
	// Name is the dependency name.
	Name string `json:"name"`
	// Version is the installed version.
	Version string `json:"version"`
	// Type is the dependency type.
	Type tool.DependencyType `json:"type"`
	// Manager is the package manager that performed the install.
	Manager string `json:"manager,omitempty"`
	// WorkDir is the environment directory for npm-package installs;
	// empty for the other types.
	WorkDir string `json:"workDir,omitempty"`
	// InstalledAt is when the dependency was installed.
	InstalledAt time.Time `json:"installedAt"`
	// LastUsedAt is refreshed whenever the entry satisfies a lookup,
	// so Sweep measures idleness rather than age.
	LastUsedAt time.Time `json:"lastUsedAt"`
}
