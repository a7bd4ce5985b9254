package outbound

import (
	"context"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
)

// DependencyResult records the outcome of installing one dependency.
type DependencyResult struct {
	// Name is the dependency name.
	Name string `json:"name"`
	// Version is the requested version.
	Version string `json:"version"`
	// Type is the dependency type.
	Type tool.DependencyType `json:"type"`
	// Installed is true when the dependency is usable, including the
	// case where it was already present and installation was skipped.
	Installed bool `json:"installed"`
	// Skipped is true when no installation ran because the dependency
	// was already satisfied.
	Skipped bool `json:"skipped"`
	// Manager is the package manager that handled it, if any.
	Manager string `json:"manager,omitempty"`
	// Error describes the failure when Installed is false.
	Error string `json:"error,omitempty"`
	// Duration is the wall-clock install time in milliseconds.
	Duration int64 `json:"durationMs"`
}

// InstallResult aggregates one install run.
type InstallResult struct {
	// Success is true when every non-optional dependency installed.
	// Optional dependency failures do not flip it.
	Success bool `json:"success"`
	// Installed lists the dependencies that are now usable, formatted
	// name@version.
	Installed []string `json:"installed"`
	// Failed lists the dependencies that could not be installed,
	// formatted name@version.
	Failed []string `json:"failed"`
	// Results holds one entry per requested dependency.
	Results []DependencyResult `json:"results"`
	// Logs are the install log lines from all groups, oldest first.
	Logs []string `json:"logs"`
	// Duration is the total wall-clock time in milliseconds.
	Duration int64 `json:"durationMs"`
}

// DependencyInstaller provisions a tool version's dependencies.
//
// Adapters: installer package.
type DependencyInstaller interface {
	// Install provisions all listed dependencies. The three dependency
	// type groups run concurrently with each other; installations
	// within one group run sequentially in declared order.
	Install(ctx context.Context, deps []tool.Dependency) (*InstallResult, error)

	// Clean removes cached installations older than the retention
	// window and returns how many entries were removed.
	Clean(ctx context.Context) (int, error)
}

// PackageInstaller installs individual packages on demand. The code
// runner uses it to satisfy a script's required packages before the
// sandbox starts.
//
// Adapters: installer package.
type PackageInstaller interface {
	// EnsurePackage makes the named package available, installing it
	// if needed. Returns the result of the single install.
	EnsurePackage(ctx context.Context, name, version string, typ tool.DependencyType) (*DependencyResult, error)
}
