// Package installer provisions tool dependencies. Dependencies are
// grouped by type; the three groups (npm packages, registry tools,
// system packages) install in parallel with each other while items
// within a group install sequentially in declared order.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/depcache"
	"github.com/toolchest-labs/toolchest/internal/domain/runtime"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

// DefaultRetention is how long unused cached dependencies are kept.
const DefaultRetention = 7 * 24 * time.Hour

// defaultCommandTimeout bounds a single package-manager invocation.
const defaultCommandTimeout = 3 * time.Minute

// maxOutputLines caps how many subprocess output lines go into the log.
const maxOutputLines = 50

// ToolResolver looks up a tool version in the registry. The registry
// service implements it.
type ToolResolver interface {
	ResolveVersion(ctx context.Context, name, version string) (*tool.Version, error)
}

// ResolverFunc adapts a function to the ToolResolver interface. Wiring
// uses it to break the construction cycle between the installer and the
// registry that resolves for it.
type ResolverFunc func(ctx context.Context, name, version string) (*tool.Version, error)

// ResolveVersion calls f.
func (f ResolverFunc) ResolveVersion(ctx context.Context, name, version string) (*tool.Version, error) {
	return f(ctx, name, version)
}

// Installer implements outbound.DependencyInstaller and
// outbound.PackageInstaller over the host's package managers and the
// on-disk dependency cache.
type Installer struct {
	cache      *depcache.FileCacheStore
	resolver   ToolResolver
	workDir    string
	retention  time.Duration
	cmdTimeout time.Duration
	logger     *slog.Logger

	// Swapped out in tests.
	runCommand    func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	detectNode    func() (runtime.Manager, error)
	detectSystem  func() (runtime.Manager, error)
	commandExists func(name string) bool

	manifestOnce sync.Once
	manifestErr  error
}

// Option configures an Installer.
type Option func(*Installer)

// WithRetention sets how long unused cached dependencies are kept.
func WithRetention(d time.Duration) Option {
	return func(i *Installer) {
		i.retention = d
	}
}

// WithCommandTimeout sets the per-invocation subprocess timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(i *Installer) {
		i.cmdTimeout = d
	}
}

// New creates an Installer. workDir is the shared directory npm-package
// installs run in; its manifest is created on first use.
func New(cache *depcache.FileCacheStore, resolver ToolResolver, workDir string, logger *slog.Logger, opts ...Option) *Installer {
	inst := &Installer{
		cache:      cache,
		resolver:   resolver,
		workDir:    workDir,
		retention:  DefaultRetention,
		cmdTimeout: defaultCommandTimeout,
		logger:     logger,

		runCommand:    runCommand,
		detectNode:    runtime.DetectNodeManager,
		detectSystem:  runtime.DetectSystemManager,
		commandExists: runtime.CommandExists,
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// Install provisions all listed dependencies and reports the combined
// outcome. Optional dependency failures are recorded but do not flip
// the overall success flag.
func (i *Installer) Install(ctx context.Context, deps []tool.Dependency) (*outbound.InstallResult, error) {
	start := time.Now()
	tally := newTally(i.logger)

	groups := map[tool.DependencyType][]tool.Dependency{}
	for _, dep := range deps {
		groups[dep.Type] = append(groups[dep.Type], dep)
	}

	var wg sync.WaitGroup
	for _, items := range groups {
		wg.Add(1)
		go func(items []tool.Dependency) {
			defer wg.Done()
			for _, dep := range items {
				result := i.installOne(ctx, dep, tally)
				tally.record(result, dep.Optional)
			}
		}(items)
	}
	wg.Wait()

	res := tally.result()
	res.Duration = time.Since(start).Milliseconds()
	i.logger.Info("dependency install finished",
		"requested", len(deps),
		"installed", len(res.Installed),
		"failed", len(res.Failed),
		"success", res.Success,
		"durationMs", res.Duration)
	return res, nil
}

// EnsurePackage provisions a single dependency. The code runner uses
// this to satisfy a version's required packages before the sandbox
// starts.
func (i *Installer) EnsurePackage(ctx context.Context, name, version string, typ tool.DependencyType) (*outbound.DependencyResult, error) {
	dep := tool.Dependency{Name: name, Version: version, Type: typ}
	tally := newTally(i.logger)
	result := i.installOne(ctx, dep, tally)
	return &result, nil
}

// installOne dispatches a single dependency to its type's installer.
func (i *Installer) installOne(ctx context.Context, dep tool.Dependency, tally *installTally) outbound.DependencyResult {
	start := time.Now()
	var result outbound.DependencyResult
	switch dep.Type {
	case tool.DependencyTypeNPMPackage:
		result = i.installPackage(ctx, dep, tally)
	case tool.DependencyTypeOtherTool:
		result = i.installTool(ctx, dep, tally)
	case tool.DependencyTypeSystemPackage:
		result = i.installSystem(ctx, dep, tally)
	default:
		result = outbound.DependencyResult{
			Name: dep.Name, Version: dep.Version, Type: dep.Type,
			Error: fmt.Sprintf("unknown dependency type %q", dep.Type),
		}
		tally.logf("cannot install %s: unknown type %q", depKey(dep.Name, dep.Version), dep.Type)
	}
	result.Duration = time.Since(start).Milliseconds()
	return result
}

// installPackage installs one npm package into the shared work dir.
func (i *Installer) installPackage(ctx context.Context, dep tool.Dependency, tally *installTally) outbound.DependencyResult {
	result := outbound.DependencyResult{Name: dep.Name, Version: dep.Version, Type: dep.Type}
	key := depKey(dep.Name, dep.Version)

	if entry, ok, err := i.cache.Get(dep.Name, dep.Version); err == nil && ok {
		result.Installed = true
		result.Skipped = true
		result.Manager = entry.Manager
		tally.logf("package %s already installed", key)
		return result
	}

	if err := i.ensureManifest(); err != nil {
		result.Error = err.Error()
		tally.logf("package %s failed: %v", key, err)
		return result
	}

	mgr, err := i.detectNode()
	if err != nil {
		result.Error = "no JavaScript package manager found"
		tally.logf("package %s failed: no JavaScript package manager on PATH", key)
		return result
	}
	result.Manager = mgr.Name

	tally.logf("installing package %s via %s", key, mgr.Name)
	output, err := i.run(ctx, i.workDir, mgr.Name, mgr.InstallArgs(key)...)
	tally.appendOutput(output)
	if err != nil {
		result.Error = fmt.Sprintf("%s install failed: %v", mgr.Name, err)
		tally.logf("package %s failed: %v", key, err)
		return result
	}

	entry := &depcache.Entry{
		Name:    dep.Name,
		Version: dep.Version,
		Type:    dep.Type,
		Manager: mgr.Name,
		WorkDir: "",
	}
	if err := i.cache.Put(entry); err != nil {
		i.logger.Warn("failed to record package install", "package", key, "error", err)
	}

	result.Installed = true
	tally.logf("installed package %s", key)
	return result
}

// installTool resolves a registry tool version and caches its
// definition. A missing tool or version is a hard failure.
func (i *Installer) installTool(ctx context.Context, dep tool.Dependency, tally *installTally) outbound.DependencyResult {
	result := outbound.DependencyResult{Name: dep.Name, Version: dep.Version, Type: dep.Type}
	key := depKey(dep.Name, dep.Version)

	if _, ok, err := i.cache.Get(dep.Name, dep.Version); err == nil && ok {
		result.Installed = true
		result.Skipped = true
		tally.logf("tool %s already cached", key)
		return result
	}

	if i.resolver == nil {
		result.Error = "no tool resolver configured"
		tally.logf("tool %s failed: no resolver", key)
		return result
	}

	version, err := i.resolver.ResolveVersion(ctx, dep.Name, dep.Version)
	if err != nil {
		result.Error = fmt.Sprintf("resolve failed: %v", err)
		tally.logf("tool %s failed: %v", key, err)
		return result
	}

	doc, err := json.MarshalIndent(version, "", "  ")
	if err != nil {
		result.Error = fmt.Sprintf("encode definition: %v", err)
		tally.logf("tool %s failed: %v", key, err)
		return result
	}

	defPath, err := i.cache.WriteEnvFile(dep.Name, dep.Version, "definition.json", doc)
	if err != nil {
		result.Error = fmt.Sprintf("cache definition: %v", err)
		tally.logf("tool %s failed: %v", key, err)
		return result
	}

	entry := &depcache.Entry{
		Name:    dep.Name,
		Version: dep.Version,
		Type:    dep.Type,
		WorkDir: filepath.Dir(defPath),
	}
	if err := i.cache.Put(entry); err != nil {
		i.logger.Warn("failed to record tool cache entry", "tool", key, "error", err)
	}

	result.Installed = true
	tally.logf("cached tool definition %s", key)
	return result
}

// installSystem installs one system package via the detected host
// package manager. Already-present executables are skipped; a host
// without a known manager degrades to a logged no-op.
func (i *Installer) installSystem(ctx context.Context, dep tool.Dependency, tally *installTally) outbound.DependencyResult {
	result := outbound.DependencyResult{Name: dep.Name, Version: dep.Version, Type: dep.Type}
	key := depKey(dep.Name, dep.Version)

	if i.commandExists(dep.Name) {
		result.Installed = true
		result.Skipped = true
		tally.logf("system package %s already present", dep.Name)
		return result
	}

	mgr, err := i.detectSystem()
	if err != nil {
		// Not a failure: the host may simply manage packages some
		// other way. The tool will fail later if it truly needs it.
		result.Skipped = true
		tally.logf("no system package manager found, skipping %s", key)
		i.logger.Warn("no system package manager detected", "package", dep.Name)
		return result
	}
	result.Manager = mgr.Name

	tally.logf("installing system package %s via %s", dep.Name, mgr.Name)
	output, err := i.run(ctx, "", mgr.Name, mgr.InstallArgs(dep.Name)...)
	tally.appendOutput(output)
	if err != nil {
		result.Error = fmt.Sprintf("%s install failed: %v", mgr.Name, err)
		tally.logf("system package %s failed: %v", key, err)
		return result
	}

	result.Installed = true
	tally.logf("installed system package %s", dep.Name)
	return result
}

// Clean removes cached dependencies unused for longer than the
// retention window, plus the shared package work dir when nothing
// references it anymore. Best-effort: problems are logged, not
// returned.
func (i *Installer) Clean(ctx context.Context) (int, error) {
	removed, err := i.cache.Sweep(i.retention)
	if err != nil {
		return 0, fmt.Errorf("sweep dependency cache: %w", err)
	}

	entries, err := i.cache.List()
	if err != nil {
		i.logger.Warn("failed to list cache entries after sweep", "error", err)
		return removed, nil
	}
	packagesLeft := false
	for _, e := range entries {
		if e.Type == tool.DependencyTypeNPMPackage {
			packagesLeft = true
			break
		}
	}
	if !packagesLeft {
		modules := filepath.Join(i.workDir, "node_modules")
		if err := os.RemoveAll(modules); err != nil {
			i.logger.Warn("failed to remove package work dir", "path", modules, "error", err)
		}
	}

	if removed > 0 {
		i.logger.Info("cleaned dependency cache", "removed", removed)
	}
	return removed, nil
}

// ensureManifest creates the npm work dir and a minimal package.json on
// first use. The manifest keeps package managers from walking up the
// tree looking for one.
func (i *Installer) ensureManifest() error {
	i.manifestOnce.Do(func() {
		if err := os.MkdirAll(i.workDir, 0700); err != nil {
			i.manifestErr = fmt.Errorf("create package work dir: %w", err)
			return
		}
		manifest := filepath.Join(i.workDir, "package.json")
		if _, err := os.Stat(manifest); err == nil {
			return
		}
		doc := []byte("{\n  \"name\": \"toolchest-deps\",\n  \"version\": \"1.0.0\",\n  \"private\": true\n}\n")
		tmp := manifest + ".tmp"
		if err := os.WriteFile(tmp, doc, 0600); err != nil {
			i.manifestErr = fmt.Errorf("write package manifest: %w", err)
			return
		}
		if err := os.Rename(tmp, manifest); err != nil {
			_ = os.Remove(tmp)
			i.manifestErr = fmt.Errorf("write package manifest: %w", err)
		}
	})
	return i.manifestErr
}

// run executes one package-manager command under the command timeout.
func (i *Installer) run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, i.cmdTimeout)
	defer cancel()
	return i.runCommand(cmdCtx, dir, name, args...)
}

// runCommand is the real subprocess runner.
func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output, fmt.Errorf("command timed out: %s", name)
		}
		return output, err
	}
	return output, nil
}

// depKey formats the canonical name@version identifier.
func depKey(name, version string) string {
	return name + "@" + version
}

// installTally accumulates results across the concurrently running
// groups.
type installTally struct {
	mu        sync.Mutex
	installed []string
	failed    []string
	logs      []string
	results   []outbound.DependencyResult
	success   bool
	logger    *slog.Logger
}

func newTally(logger *slog.Logger) *installTally {
	return &installTally{success: true, logger: logger}
}

// logf appends a formatted line to the shared log.
func (t *installTally) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.mu.Lock()
	t.logs = append(t.logs, line)
	t.mu.Unlock()
	t.logger.Debug(line)
}

// appendOutput splits subprocess output into log lines, capped so a
// chatty package manager cannot flood the result.
func (t *installTally) appendOutput(output []byte) {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > maxOutputLines {
		lines = lines[len(lines)-maxOutputLines:]
	}
	t.mu.Lock()
	t.logs = append(t.logs, lines...)
	t.mu.Unlock()
}

// record folds one dependency result into the tally. Failures of
// optional dependencies do not flip overall success.
func (t *installTally) record(result outbound.DependencyResult, optional bool) {
	key := depKey(result.Name, result.Version)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, result)
	switch {
	case result.Installed:
		t.installed = append(t.installed, key)
	case result.Error != "":
		t.failed = append(t.failed, key)
		if !optional {
			t.success = false
		}
	}
}

// result snapshots the tally into an InstallResult.
func (t *installTally) result() *outbound.InstallResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &outbound.InstallResult{
		Success:   t.success,
		Installed: append([]string(nil), t.installed...),
		Failed:    append([]string(nil), t.failed...),
		Results:   append([]outbound.DependencyResult(nil), t.results...),
		Logs:      append([]string(nil), t.logs...),
	}
}

// Compile-time interface verification.
var (
	_ outbound.DependencyInstaller = (*Installer)(nil)
	_ outbound.PackageInstaller    = (*Installer)(nil)
)
