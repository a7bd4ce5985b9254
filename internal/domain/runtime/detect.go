// Package runtime probes the host for the package managers the
// dependency installer shells out to: JavaScript package managers for
// npm-package dependencies and OS package managers for system-package
// dependencies.
package runtime

import (
	"errors"
	"os/exec"
)

// ManagerKind distinguishes the two families of package managers.
type ManagerKind string

const (
	// KindNode identifies JavaScript package managers (npm, pnpm, yarn, bun).
	KindNode ManagerKind = "node"
	// KindSystem identifies OS package managers (apt-get, brew, ...).
	KindSystem ManagerKind = "system"
)

// ErrNoManager is returned when no package manager of the requested
// kind is installed on the host.
var ErrNoManager = errors.New("no package manager found")

// Manager describes one detected package manager.
type Manager struct {
	// Name is the executable name, e.g. "npm" or "apt-get".
	Name string
	// Kind is the manager family.
	Kind ManagerKind

	installArgs []string
}

// InstallArgs returns the argument vector that installs pkg with this
// manager, excluding the executable itself.
func (m Manager) InstallArgs(pkg string) []string {
	args := make([]string, 0, len(m.installArgs)+1)
	args = append(args, m.installArgs...)
	return append(args, pkg)
}

// nodeManagers are probed in preference order. npm ships with Node and
// is the conservative default; the alternatives win only when npm is
// absent.
var nodeManagers = []Manager{
	{Name: "npm", Kind: KindNode, installArgs: []string{"install", "--no-fund", "--no-audit"}},
	{Name: "pnpm", Kind: KindNode, installArgs: []string{"add"}},
	{Name: "yarn", Kind: KindNode, installArgs: []string{"add"}},
	{Name: "bun", Kind: KindNode, installArgs: []string{"add"}},
}

// systemManagers are probed in preference order, most specific first.
var systemManagers = []Manager{
	{Name: "apt-get", Kind: KindSystem, installArgs: []string{"install", "-y"}},
	{Name: "dnf", Kind: KindSystem, installArgs: []string{"install", "-y"}},
	{Name: "yum", Kind: KindSystem, installArgs: []string{"install", "-y"}},
	{Name: "pacman", Kind: KindSystem, installArgs: []string{"-S", "--noconfirm"}},
	{Name: "apk", Kind: KindSystem, installArgs: []string{"add"}},
	{Name: "brew", Kind: KindSystem, installArgs: []string{"install"}},
	{Name: "winget", Kind: KindSystem, installArgs: []string{"install", "--accept-package-agreements", "--accept-source-agreements"}},
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// DetectNodeManager returns the first JavaScript package manager found
// on PATH. Returns ErrNoManager when none is installed.
func DetectNodeManager() (Manager, error) {
	return detect(nodeManagers)
}

// DetectSystemManager returns the first OS package manager found on
// PATH. Returns ErrNoManager when none is installed.
func DetectSystemManager() (Manager, error) {
	return detect(systemManagers)
}

func detect(candidates []Manager) (Manager, error) {
	for _, m := range candidates {
		if _, err := lookPath(m.Name); err == nil {
			return m, nil
		}
	}
	return Manager{}, ErrNoManager
}

// CommandExists reports whether the named executable is on PATH. The
// installer uses this to skip system packages that are already present.
func CommandExists(name string) bool {
	_, err := lookPath(name)
	return err == nil
}
