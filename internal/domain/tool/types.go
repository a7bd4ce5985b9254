// Package tool contains domain types for registered tools: versioned,
// schema-validated units of executable logic managed by the registry.
package tool

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/schema"
)

// DependencyType identifies how a tool dependency is resolved and installed.
type DependencyType string

const (
	// DependencyTypeNPMPackage is a JavaScript package installed via the
	// detected package manager into the shared dependency workdir.
	DependencyTypeNPMPackage DependencyType = "npm-package"
	// DependencyTypeOtherTool is another registered tool, resolved through
	// the registry and cached by name@version.
	DependencyTypeOtherTool DependencyType = "other-tool"
	// DependencyTypeSystemPackage is a host package installed via the
	// detected system package manager.
	DependencyTypeSystemPackage DependencyType = "system-package"
)

// namePattern allows alphanumeric, spaces, hyphens, and underscores.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// nameMaxLength is the maximum allowed length for a tool name.
const nameMaxLength = 100

// Bounds for the per-tool metric collections.
const (
	maxLastErrors    = 10
	maxInputPatterns = 10
)

// Dependency declares something a tool version needs before it can run.
type Dependency struct {
	// Name is the package, tool, or executable name.
	Name string `json:"name"`
	// Version is the required semantic version.
	Version string `json:"version"`
	// Type determines the installation strategy.
	Type DependencyType `json:"type"`
	// Optional dependencies may fail to install without failing the tool.
	Optional bool `json:"optional,omitempty"`
}

// Validate checks a single dependency declaration.
func (d *Dependency) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dependency name is required")
	}
	switch d.Type {
	case DependencyTypeNPMPackage, DependencyTypeOtherTool, DependencyTypeSystemPackage:
	default:
		return fmt.Errorf("dependency %q: type must be %q, %q, or %q",
			d.Name, DependencyTypeNPMPackage, DependencyTypeOtherTool, DependencyTypeSystemPackage)
	}
	if d.Version != "" && !IsValidVersion(d.Version) {
		return fmt.Errorf("dependency %q: version %q is not a valid semantic version", d.Name, d.Version)
	}
	return nil
}

// Version is one named revision of a tool's code and dependency set.
type Version struct {
	// Version is the semantic version string (unique per tool).
	Version string `json:"version"`
	// Code is the executable snippet. Opaque to the registry.
	Code string `json:"code"`
	// Dependencies are installed before the code runs, in declared order.
	Dependencies []Dependency `json:"dependencies,omitempty"`
	// Changelog describes what changed in this revision.
	Changelog string `json:"changelog,omitempty"`
	// Author is who created this revision.
	Author string `json:"author,omitempty"`
	// CreatedAt is when this revision was stored.
	CreatedAt time.Time `json:"createdAt"`
}

// Metadata holds optional descriptive and usage information for a tool.
type Metadata struct {
	// Author is who registered the tool.
	Author string `json:"author,omitempty"`
	// Tags are free-form labels used for filtering.
	Tags []string `json:"tags,omitempty"`
	// Category references a Category ID.
	Category string `json:"category,omitempty"`
	// LastUsed is the time of the most recent execution.
	LastUsed *time.Time `json:"lastUsed,omitempty"`
	// UseCount is the total number of executions.
	UseCount int64 `json:"useCount,omitempty"`
}

// InputPattern records how often a distinct input shape was seen.
// The pattern is the sorted top-level input keys joined with commas.
type InputPattern struct {
	Pattern string `json:"pattern"`
	Count   int64  `json:"count"`
}

// ExecutionError is one bounded-history error entry.
type ExecutionError struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics aggregates execution outcomes per tool. Mutated after every
// execution; only an explicit prune resets it.
type Metrics struct {
	// ExecutionCount is the total number of executions attempted.
	ExecutionCount int64 `json:"executionCount"`
	// AverageExecutionTime is the rolling mean duration in milliseconds.
	AverageExecutionTime float64 `json:"averageExecutionTime"`
	// ErrorRate is failed/total, in [0, 1].
	ErrorRate float64 `json:"errorRate"`
	// LastExecuted is the time of the most recent execution.
	LastExecuted *time.Time `json:"lastExecuted,omitempty"`
	// SuccessfulExecutions counts executions that succeeded end to end.
	SuccessfulExecutions int64 `json:"successfulExecutions"`
	// FailedExecutions counts executions that failed at any stage.
	FailedExecutions int64 `json:"failedExecutions"`
	// PopularInputPatterns is a bounded tally of observed input shapes.
	PopularInputPatterns []InputPattern `json:"popularInputPatterns,omitempty"`
	// LastErrors is a bounded list of recent error messages.
	LastErrors []ExecutionError `json:"lastErrors,omitempty"`
}

// Record folds one execution outcome into the metrics.
// inputKeys are the top-level keys of the (coerced) input.
func (m *Metrics) Record(success bool, duration time.Duration, inputKeys []string, errMsg string) {
	now := time.Now().UTC()
	m.ExecutionCount++
	if success {
		m.SuccessfulExecutions++
	} else {
		m.FailedExecutions++
		m.LastErrors = append(m.LastErrors, ExecutionError{Error: errMsg, Timestamp: now})
		if len(m.LastErrors) > maxLastErrors {
			m.LastErrors = m.LastErrors[len(m.LastErrors)-maxLastErrors:]
		}
	}
	m.ErrorRate = float64(m.FailedExecutions) / float64(m.ExecutionCount)

	// Rolling mean over all executions, in milliseconds.
	ms := float64(duration.Milliseconds())
	m.AverageExecutionTime = (m.AverageExecutionTime*float64(m.ExecutionCount-1) + ms) / float64(m.ExecutionCount)
	m.LastExecuted = &now

	m.recordPattern(inputKeys)
}

// recordPattern tallies the input shape, evicting the least-used entry
// once the bounded list is full.
func (m *Metrics) recordPattern(inputKeys []string) {
	if len(inputKeys) == 0 {
		return
	}
	keys := make([]string, len(inputKeys))
	copy(keys, inputKeys)
	sort.Strings(keys)
	pattern := strings.Join(keys, ",")

	for i := range m.PopularInputPatterns {
		if m.PopularInputPatterns[i].Pattern == pattern {
			m.PopularInputPatterns[i].Count++
			return
		}
	}
	if len(m.PopularInputPatterns) >= maxInputPatterns {
		// Evict the least-used pattern to make room.
		low := 0
		for i := range m.PopularInputPatterns {
			if m.PopularInputPatterns[i].Count < m.PopularInputPatterns[low].Count {
				low = i
			}
		}
		m.PopularInputPatterns = append(m.PopularInputPatterns[:low], m.PopularInputPatterns[low+1:]...)
	}
	m.PopularInputPatterns = append(m.PopularInputPatterns, InputPattern{Pattern: pattern, Count: 1})
}

// Tool is a named, versioned, schema-validated unit of executable logic.
// Name is the immutable primary key.
type Tool struct {
	// Name uniquely identifies the tool.
	Name string `json:"name"`
	// Description is shown to humans and embedded for semantic search.
	Description string `json:"description"`
	// InputSchema validates and coerces execution input.
	InputSchema *schema.Schema `json:"inputSchema"`
	// OutputSchema validates what the tool's code returns.
	OutputSchema *schema.Schema `json:"outputSchema"`
	// Versions maps semantic-version string to the stored revision.
	Versions map[string]*Version `json:"versions"`
	// CurrentVersion points at the revision used by ExecuteTool.
	// Must always reference an existing key of Versions.
	CurrentVersion string `json:"currentVersion"`
	// Metadata is optional descriptive and usage information.
	Metadata *Metadata `json:"metadata,omitempty"`
	// Metrics aggregates execution outcomes.
	Metrics *Metrics `json:"metrics,omitempty"`

	// Embedding is the semantic-search vector. Never serialized to API
	// responses; persisted in its own column.
	Embedding []float32 `json:"-"`

	// CreatedAt is when the tool was registered.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the tool was last modified.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the full tool definition. Returns nil if valid, or an
// error describing the first validation failure.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTool)
	}
	if len(t.Name) > nameMaxLength {
		return fmt.Errorf("%w: name must be %d characters or less", ErrInvalidTool, nameMaxLength)
	}
	if !namePattern.MatchString(t.Name) {
		return fmt.Errorf("%w: name contains invalid characters (allowed: alphanumeric, spaces, hyphens, underscores)", ErrInvalidTool)
	}
	if len(t.Versions) == 0 {
		return fmt.Errorf("%w: at least one version is required", ErrInvalidTool)
	}
	if t.CurrentVersion == "" {
		return fmt.Errorf("%w: currentVersion is required", ErrInvalidTool)
	}
	current, ok := t.Versions[t.CurrentVersion]
	if !ok {
		return fmt.Errorf("%w: currentVersion %q does not reference a stored version", ErrInvalidTool, t.CurrentVersion)
	}
	for key, v := range t.Versions {
		if err := validateVersion(key, v); err != nil {
			return err
		}
	}
	if strings.TrimSpace(current.Code) == "" {
		return fmt.Errorf("%w: version %q has no code", ErrInvalidTool, t.CurrentVersion)
	}
	if t.InputSchema == nil {
		return fmt.Errorf("%w: inputSchema is required", ErrInvalidTool)
	}
	if t.OutputSchema == nil {
		return fmt.Errorf("%w: outputSchema is required", ErrInvalidTool)
	}
	return nil
}

// validateVersion checks one stored revision under its map key.
func validateVersion(key string, v *Version) error {
	if v == nil {
		return fmt.Errorf("%w: version %q is empty", ErrInvalidTool, key)
	}
	if !IsValidVersion(key) {
		return fmt.Errorf("%w: version %q is not a valid semantic version", ErrInvalidTool, key)
	}
	if v.Version != "" && v.Version != key {
		return fmt.Errorf("%w: version %q is stored under key %q", ErrInvalidTool, v.Version, key)
	}
	for i := range v.Dependencies {
		if err := v.Dependencies[i].Validate(); err != nil {
			return fmt.Errorf("%w: version %q: %v", ErrInvalidTool, key, err)
		}
	}
	return nil
}

// Current returns the revision CurrentVersion points at, or nil when the
// pointer is dangling (a validated tool never dangles).
func (t *Tool) Current() *Version {
	if t.Versions == nil {
		return nil
	}
	return t.Versions[t.CurrentVersion]
}

// Clone returns a deep copy. Stores and caches hand out copies only, so
// callers can never mutate shared state through a returned Tool.
func (t *Tool) Clone() *Tool {
	if t == nil {
		return nil
	}
	out := *t
	if t.InputSchema != nil {
		out.InputSchema = t.InputSchema.Clone()
	}
	if t.OutputSchema != nil {
		out.OutputSchema = t.OutputSchema.Clone()
	}
	if t.Versions != nil {
		out.Versions = make(map[string]*Version, len(t.Versions))
		for k, v := range t.Versions {
			vc := *v
			vc.Dependencies = append([]Dependency(nil), v.Dependencies...)
			out.Versions[k] = &vc
		}
	}
	if t.Metadata != nil {
		mc := *t.Metadata
		mc.Tags = append([]string(nil), t.Metadata.Tags...)
		if t.Metadata.LastUsed != nil {
			lu := *t.Metadata.LastUsed
			mc.LastUsed = &lu
		}
		out.Metadata = &mc
	}
	if t.Metrics != nil {
		met := *t.Metrics
		met.PopularInputPatterns = append([]InputPattern(nil), t.Metrics.PopularInputPatterns...)
		met.LastErrors = append([]ExecutionError(nil), t.Metrics.LastErrors...)
		if t.Metrics.LastExecuted != nil {
			le := *t.Metrics.LastExecuted
			met.LastExecuted = &le
		}
		out.Metrics = &met
	}
	out.Embedding = append([]float32(nil), t.Embedding...)
	return &out
}

// LogLevel classifies a captured log line from a tool run.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is one line captured from a tool's logger during execution.
type LogEntry struct {
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ExecutionResult is the outcome of one ExecuteTool call. Failures at any
// stage (lookup, input validation, run, output validation) land here as
// data; ExecuteTool never returns a Go error for tool-level failures.
type ExecutionResult struct {
	// Success is true only when the code ran and its output passed the
	// declared output schema.
	Success bool `json:"success"`
	// Result is the tool's output (present on success).
	Result any `json:"result,omitempty"`
	// Logs are the lines captured from the tool's logger.
	Logs []LogEntry `json:"logs,omitempty"`
	// Error is the failure description (present on failure).
	Error string `json:"error,omitempty"`
	// ExecutionTime is the wall-clock duration in milliseconds, inclusive
	// of dependency installation.
	ExecutionTime int64 `json:"executionTime"`
	// ToolName and Version identify what ran.
	ToolName string `json:"toolName,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Filter narrows ListTools results. Zero value matches everything.
type Filter struct {
	// Category matches tools whose metadata references this category ID.
	Category string
	// Tag matches tools carrying this tag.
	Tag string
	// Query is a case-insensitive substring match on name or description.
	Query string
}

// Matches reports whether the tool passes the filter.
func (f Filter) Matches(t *Tool) bool {
	if f.Category != "" && (t.Metadata == nil || t.Metadata.Category != f.Category) {
		return false
	}
	if f.Tag != "" {
		if t.Metadata == nil {
			return false
		}
		found := false
		for _, tag := range t.Metadata.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(t.Name), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}
