package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolchest-labs/toolchest/internal/domain/category"
	"github.com/toolchest-labs/toolchest/internal/domain/event"
	"github.com/toolchest-labs/toolchest/internal/domain/schema"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

// ErrLLMNotConfigured is returned by operations that need a language
// model when no completion client was wired at startup.
var ErrLLMNotConfigured = errors.New("llm is not configured")

const (
	// defaultSearchLimit is how many tools FindTool returns when the
	// caller does not ask for a specific count.
	defaultSearchLimit = 5
	// statsTopN bounds the most-used / recently-used lists in stats.
	statsTopN = 5
	// defaultBackfillInterval is how often the embedding backfill loop
	// retries tools that still have no embedding vector.
	defaultBackfillInterval = 5 * time.Minute
	// draftVersion is the version assigned to LLM-proposed tool drafts.
	draftVersion = "1.0.0"
)

// ToolRegistry is the source of truth for tool definitions, their
// versions, categories, and metrics. It orchestrates schema validation,
// sandboxed execution, dependency installation, and semantic search.
//
// All reads go through the in-memory cache, which is authoritative after
// Init. Writes persist to the store first and update the cache only
// after the persistent write succeeds. Mutations on the same tool name
// are serialized by a per-name lock; operations on distinct names run
// concurrently.
type ToolRegistry struct {
	store      tool.Store
	cache      tool.Cache
	categories category.Store
	runner     outbound.CodeRunner
	installer  outbound.DependencyInstaller
	embedder   outbound.EmbeddingClient
	completer  outbound.CompletionClient
	validator  *schema.Validator
	recorder   *ExecutionRecorder
	locks      *tool.NameLocker
	logger     *slog.Logger

	backfillInterval time.Duration
	ctx              context.Context
	cancel           context.CancelFunc
	stopped          bool
	mu               sync.Mutex
}

// NewToolRegistry creates a ToolRegistry. The embedder, completer, and
// recorder may be nil; the affected features (semantic search, tool
// drafting, activity records) degrade gracefully.
func NewToolRegistry(
	store tool.Store,
	cache tool.Cache,
	categories category.Store,
	runner outbound.CodeRunner,
	installer outbound.DependencyInstaller,
	embedder outbound.EmbeddingClient,
	completer outbound.CompletionClient,
	validator *schema.Validator,
	recorder *ExecutionRecorder,
	logger *slog.Logger,
) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = schema.NewValidator()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ToolRegistry{
		store:            store,
		cache:            cache,
		categories:       categories,
		runner:           runner,
		installer:        installer,
		embedder:         embedder,
		completer:        completer,
		validator:        validator,
		recorder:         recorder,
		locks:            tool.NewNameLocker(),
		logger:           logger,
		backfillInterval: defaultBackfillInterval,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Init loads all persisted tools into the cache. The cache is
// authoritative afterward: every read path goes through it.
func (s *ToolRegistry) Init(ctx context.Context) error {
	tools, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load tools: %w", err)
	}

	var missingEmbeddings int
	for _, t := range tools {
		if len(t.Embedding) == 0 {
			missingEmbeddings++
		}
		s.cache.Set(t)
	}

	s.logger.Info("tool registry initialized",
		"tools", len(tools),
		"missing_embeddings", missingEmbeddings)
	return nil
}

// StartEmbeddingBackfill starts a background loop that periodically
// computes embeddings for tools that still have none, so tools added
// while the embedding backend was unreachable become searchable without
// intervention.
func (s *ToolRegistry) StartEmbeddingBackfill(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.backfillInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.backfillEmbeddings(ctx)
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// backfillEmbeddings embeds every cached tool without a vector.
func (s *ToolRegistry) backfillEmbeddings(ctx context.Context) {
	if s.embedder == nil {
		return
	}

	var filled int
	for _, t := range s.cache.List() {
		if len(t.Embedding) > 0 {
			continue
		}
		vector, err := s.embedder.Embed(ctx, embeddingText(t))
		if err != nil {
			s.logger.Debug("embedding backfill attempt failed",
				"tool", t.Name, "error", err)
			continue
		}
		if err := s.setEmbedding(ctx, t.Name, vector); err != nil {
			s.logger.Error("failed to persist backfilled embedding",
				"tool", t.Name, "error", err)
			continue
		}
		filled++
	}

	if filled > 0 {
		s.logger.Info("backfilled tool embeddings", "tools", filled)
	}
}

// setEmbedding stores a freshly computed vector under the per-name lock.
func (s *ToolRegistry) setEmbedding(ctx context.Context, name string, vector []float32) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	t, ok := s.cache.Get(name)
	if !ok {
		// Deleted while embedding; nothing to update.
		return nil
	}
	t.Embedding = vector
	if err := s.store.Update(ctx, t); err != nil {
		return err
	}
	s.cache.Set(t)
	return nil
}

// Stop cancels the background embedding loop. Safe to call multiple times.
func (s *ToolRegistry) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	if s.cancel != nil {
		s.cancel()
	}
}

// AddTool validates and registers a new tool. The embedding is computed
// from the name, description, and input property names; an embedding
// failure is not fatal (the backfill loop retries later). The cache is
// written only after the persistent write succeeds.
func (s *ToolRegistry) AddTool(ctx context.Context, t *tool.Tool) error {
	if t == nil {
		return fmt.Errorf("%w: tool is nil", tool.ErrInvalidTool)
	}
	if err := t.Validate(); err != nil {
		return err
	}

	s.locks.Lock(t.Name)
	defer s.locks.Unlock(t.Name)

	if _, ok := s.cache.Get(t.Name); ok {
		return fmt.Errorf("%w: %s", tool.ErrToolExists, t.Name)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Metadata == nil {
		t.Metadata = &tool.Metadata{}
	}
	if t.Metrics == nil {
		t.Metrics = &tool.Metrics{}
	}
	for key, v := range t.Versions {
		if v.Version == "" {
			v.Version = key
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	}

	s.embed(ctx, t)

	if err := s.store.Add(ctx, t); err != nil {
		return fmt.Errorf("persist tool %q: %w", t.Name, err)
	}
	s.cache.Set(t)

	s.emit(event.KindToolAdded, t.Name, "version "+t.CurrentVersion)
	s.logger.Info("tool added",
		"name", t.Name,
		"version", t.CurrentVersion,
		"has_embedding", len(t.Embedding) > 0)
	return nil
}

// UpdateTool merges updates into the stored tool and re-persists it.
// The name is immutable; CreatedAt and usage counters are preserved.
// The merged result is re-validated and re-embedded when the fields
// feeding the embedding changed. Returns the merged tool.
func (s *ToolRegistry) UpdateTool(ctx context.Context, name string, updates *tool.Tool) (*tool.Tool, error) {
	if updates == nil {
		return nil, fmt.Errorf("%w: updates are nil", tool.ErrInvalidTool)
	}
	if updates.Name != "" && updates.Name != name {
		return nil, fmt.Errorf("%w: cannot rename %q to %q", tool.ErrNameImmutable, name, updates.Name)
	}

	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	existing, ok := s.cache.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}

	merged := mergeTool(existing, updates)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	if embeddingText(merged) != embeddingText(existing) {
		merged.Embedding = nil
		s.embed(ctx, merged)
	}
	merged.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, merged); err != nil {
		return nil, fmt.Errorf("persist tool %q: %w", name, err)
	}
	s.cache.Set(merged)

	s.emit(event.KindToolUpdated, name, "definition updated")
	s.logger.Info("tool updated", "name", name)
	return merged, nil
}

// mergeTool overlays the non-zero fields of updates onto a copy of the
// existing tool. Name, CreatedAt, metrics, and usage counters always
// come from the existing tool.
func mergeTool(existing, updates *tool.Tool) *tool.Tool {
	merged := existing.Clone()

	if updates.Description != "" {
		merged.Description = updates.Description
	}
	if updates.InputSchema != nil {
		merged.InputSchema = updates.InputSchema.Clone()
	}
	if updates.OutputSchema != nil {
		merged.OutputSchema = updates.OutputSchema.Clone()
	}
	if updates.Versions != nil {
		merged.Versions = make(map[string]*tool.Version, len(updates.Versions))
		now := time.Now().UTC()
		for key, v := range updates.Versions {
			vc := *v
			if vc.Version == "" {
				vc.Version = key
			}
			if vc.CreatedAt.IsZero() {
				if prev, ok := existing.Versions[key]; ok {
					vc.CreatedAt = prev.CreatedAt
				} else {
					vc.CreatedAt = now
				}
			}
			vc.Dependencies = append([]tool.Dependency(nil), v.Dependencies...)
			merged.Versions[key] = &vc
		}
	}
	if updates.CurrentVersion != "" {
		merged.CurrentVersion = updates.CurrentVersion
	}
	if updates.Metadata != nil {
		meta := &tool.Metadata{
			Author:   updates.Metadata.Author,
			Tags:     append([]string(nil), updates.Metadata.Tags...),
			Category: updates.Metadata.Category,
		}
		// Usage counters are execution-owned, never client-settable.
		if merged.Metadata != nil {
			meta.LastUsed = merged.Metadata.LastUsed
			meta.UseCount = merged.Metadata.UseCount
		}
		merged.Metadata = meta
	}
	return merged
}

// DeleteTool removes a tool and all its versions from the store and
// the cache.
func (s *ToolRegistry) DeleteTool(ctx context.Context, name string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	if _, ok := s.cache.Get(name); !ok {
		return fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	if err := s.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete tool %q: %w", name, err)
	}
	s.cache.Delete(name)

	s.emit(event.KindToolDeleted, name, "")
	s.logger.Info("tool deleted", "name", name)
	return nil
}

// GetTool returns a deep copy of the named tool.
func (s *ToolRegistry) GetTool(ctx context.Context, name string) (*tool.Tool, error) {
	t, ok := s.cache.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	return t, nil
}

// ListTools returns all tools passing the filter, sorted by name.
func (s *ToolRegistry) ListTools(ctx context.Context, filter tool.Filter) ([]*tool.Tool, error) {
	var out []*tool.Tool
	for _, t := range s.cache.List() {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ToolMatch pairs a search hit with its similarity score in [0, 1].
// Substring-fallback hits carry a zero score.
type ToolMatch struct {
	Tool  *tool.Tool `json:"tool"`
	Score float64    `json:"score"`
}

// FindTool performs fuzzy tool discovery: embed the query and rank
// cached tools by cosine similarity, returning the top limit matches.
// Tools without an embedding are skipped. When the embedding backend is
// unavailable the search degrades to a case-insensitive substring match
// over names and descriptions.
func (s *ToolRegistry) FindTool(ctx context.Context, query string, limit int) ([]ToolMatch, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	if s.embedder != nil {
		vector, err := s.embedder.Embed(ctx, query)
		if err == nil {
			return s.rankBySimilarity(vector, limit), nil
		}
		s.logger.Warn("semantic search degraded to substring match", "error", err)
	}

	return s.substringMatches(query, limit), nil
}

func (s *ToolRegistry) rankBySimilarity(query []float32, limit int) []ToolMatch {
	var matches []ToolMatch
	for _, t := range s.cache.List() {
		if len(t.Embedding) == 0 {
			continue
		}
		matches = append(matches, ToolMatch{Tool: t, Score: cosineSimilarity(query, t.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Tool.Name < matches[j].Tool.Name
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (s *ToolRegistry) substringMatches(query string, limit int) []ToolMatch {
	filter := tool.Filter{Query: query}
	var matches []ToolMatch
	for _, t := range s.cache.List() {
		if filter.Matches(t) {
			matches = append(matches, ToolMatch{Tool: t})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Tool.Name < matches[j].Tool.Name })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths and zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ExecuteTool runs the named tool's current version against input.
//
// Every failure (unknown tool, input or output schema violations,
// script errors, timeouts) is returned as data in the ExecutionResult;
// ExecuteTool never raises for tool-level failures. Metrics and usage
// metadata are updated under the per-name lock regardless of outcome.
func (s *ToolRegistry) ExecuteTool(ctx context.Context, name string, input map[string]any) *tool.ExecutionResult {
	start := time.Now()
	ctx, span := otel.Tracer("toolchest/registry").Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	if input == nil {
		input = map[string]any{}
	}

	t, ok := s.cache.Get(name)
	if !ok {
		span.SetStatus(codes.Error, "tool not found")
		s.emit(event.KindToolExecutionFailed, name, "tool not found")
		return &tool.ExecutionResult{
			Success:       false,
			Error:         fmt.Sprintf("tool not found: %s", name),
			ExecutionTime: time.Since(start).Milliseconds(),
			ToolName:      name,
		}
	}

	version := t.Current()
	if version == nil {
		return s.finishExecution(ctx, t, start, &tool.ExecutionResult{
			Error: fmt.Sprintf("tool %q has no current version", name),
		}, inputKeys(input))
	}

	// Input gate: invalid input never reaches the sandbox.
	inRes := s.validator.Validate(input, t.InputSchema)
	if !inRes.Valid {
		return s.finishExecution(ctx, t, start, &tool.ExecutionResult{
			Error: "input validation failed: " + strings.Join(inRes.Errors, "; "),
		}, inputKeys(input))
	}
	coerced, _ := inRes.Coerced.(map[string]any)
	if coerced == nil {
		coerced = map[string]any{}
	}

	runRes, runErr := s.runner.Run(ctx, version, coerced)
	var logs []tool.LogEntry
	if runRes != nil {
		logs = runRes.Logs
	}
	if runErr != nil {
		return s.finishExecution(ctx, t, start, &tool.ExecutionResult{
			Error: runErr.Error(),
			Logs:  logs,
		}, inputKeys(coerced))
	}

	// A result the declared output schema rejects is a failure even
	// though the code ran to completion.
	outRes := s.validator.Validate(runRes.Value, t.OutputSchema)
	if !outRes.Valid {
		return s.finishExecution(ctx, t, start, &tool.ExecutionResult{
			Error: "output validation failed: " + strings.Join(outRes.Errors, "; "),
			Logs:  logs,
		}, inputKeys(coerced))
	}

	return s.finishExecution(ctx, t, start, &tool.ExecutionResult{
		Success: true,
		Result:  outRes.Coerced,
		Logs:    logs,
	}, inputKeys(coerced))
}

// finishExecution stamps the result, folds it into the tool's metrics,
// and emits the execution record. Metrics persistence is best-effort:
// a store failure is logged but never discards the computed result.
func (s *ToolRegistry) finishExecution(ctx context.Context, t *tool.Tool, start time.Time, result *tool.ExecutionResult, keys []string) *tool.ExecutionResult {
	duration := time.Since(start)
	result.ToolName = t.Name
	result.Version = t.CurrentVersion
	result.ExecutionTime = duration.Milliseconds()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Bool("tool.success", result.Success))
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}

	if err := s.recordExecution(ctx, t.Name, result.Success, duration, keys, result.Error); err != nil {
		s.logger.Error("failed to persist execution metrics",
			"tool", t.Name, "error", err)
	}

	if result.Success {
		s.emit(event.KindToolExecuted, t.Name, fmt.Sprintf("%dms", result.ExecutionTime))
		s.logger.Debug("tool executed",
			"name", t.Name,
			"version", result.Version,
			"duration_ms", result.ExecutionTime)
	} else {
		s.emit(event.KindToolExecutionFailed, t.Name, result.Error)
		s.logger.Warn("tool execution failed",
			"name", t.Name,
			"version", result.Version,
			"duration_ms", result.ExecutionTime,
			"error", result.Error)
	}
	return result
}

// recordExecution folds one outcome into the tool's metrics and usage
// metadata under the per-name lock and persists the updated tool.
func (s *ToolRegistry) recordExecution(ctx context.Context, name string, success bool, duration time.Duration, keys []string, errMsg string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	t, ok := s.cache.Get(name)
	if !ok {
		// Deleted while running; nothing left to update.
		return nil
	}
	if t.Metrics == nil {
		t.Metrics = &tool.Metrics{}
	}
	if t.Metadata == nil {
		t.Metadata = &tool.Metadata{}
	}

	t.Metrics.Record(success, duration, keys, errMsg)
	now := time.Now().UTC()
	t.Metadata.LastUsed = &now
	t.Metadata.UseCount++

	if err := s.store.Update(ctx, t); err != nil {
		return err
	}
	s.cache.Set(t)
	return nil
}

// inputKeys returns the top-level keys of the input map.
func inputKeys(input map[string]any) []string {
	if len(input) == 0 {
		return nil
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	return keys
}

// ValidateInput checks data against the named tool's input schema
// without executing anything.
func (s *ToolRegistry) ValidateInput(ctx context.Context, name string, data any) (*schema.Result, error) {
	t, ok := s.cache.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	return s.validator.Validate(data, t.InputSchema), nil
}

// ValidateOutput checks data against the named tool's output schema.
func (s *ToolRegistry) ValidateOutput(ctx context.Context, name string, data any) (*schema.Result, error) {
	t, ok := s.cache.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	return s.validator.Validate(data, t.OutputSchema), nil
}

// CreateVersion appends a new revision to the tool. The current-version
// pointer does not move; promote with SetCurrentVersion.
func (s *ToolRegistry) CreateVersion(ctx context.Context, name string, v *tool.Version) error {
	if v == nil {
		return fmt.Errorf("%w: version is nil", tool.ErrInvalidTool)
	}
	if !tool.IsValidVersion(v.Version) {
		return fmt.Errorf("%w: version %q is not a valid semantic version", tool.ErrInvalidTool, v.Version)
	}
	if strings.TrimSpace(v.Code) == "" {
		return fmt.Errorf("%w: version %q has no code", tool.ErrInvalidTool, v.Version)
	}
	for i := range v.Dependencies {
		if err := v.Dependencies[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", tool.ErrInvalidTool, err)
		}
	}

	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	t, ok := s.cache.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	if _, exists := t.Versions[v.Version]; exists {
		return fmt.Errorf("%w: %s@%s", tool.ErrVersionExists, name, v.Version)
	}

	stored := *v
	stored.Dependencies = append([]tool.Dependency(nil), v.Dependencies...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	t.Versions[v.Version] = &stored
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, t); err != nil {
		return fmt.Errorf("persist tool %q: %w", name, err)
	}
	s.cache.Set(t)

	s.emit(event.KindToolUpdated, name, "version "+v.Version+" added")
	s.logger.Info("tool version created", "name", name, "version", v.Version)
	return nil
}

// GetVersion returns one stored revision.
func (s *ToolRegistry) GetVersion(ctx context.Context, name, version string) (*tool.Version, error) {
	t, ok := s.cache.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	v, ok := t.Versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", tool.ErrVersionNotFound, name, version)
	}
	return v, nil
}

// ResolveVersion returns the named revision, defaulting an empty version
// to the tool's current one. The dependency installer uses it to fetch
// definitions for other-tool dependencies.
func (s *ToolRegistry) ResolveVersion(ctx context.Context, name, version string) (*tool.Version, error) {
	if version == "" {
		t, ok := s.cache.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
		}
		version = t.CurrentVersion
	}
	return s.GetVersion(ctx, name, version)
}

// ListVersions returns all revisions in ascending semantic-version order.
func (s *ToolRegistry) ListVersions(ctx context.Context, name string) ([]*tool.Version, error) {
	t, ok := s.cache.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	keys := tool.SortedVersions(t.Versions)
	out := make([]*tool.Version, 0, len(keys))
	for _, key := range keys {
		out = append(out, t.Versions[key])
	}
	return out, nil
}

// SetCurrentVersion moves the current-version pointer. The target must
// be a stored revision.
func (s *ToolRegistry) SetCurrentVersion(ctx context.Context, name, version string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	t, ok := s.cache.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	if _, exists := t.Versions[version]; !exists {
		return fmt.Errorf("%w: %s@%s", tool.ErrVersionNotFound, name, version)
	}
	if t.CurrentVersion == version {
		return nil
	}
	t.CurrentVersion = version
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, t); err != nil {
		return fmt.Errorf("persist tool %q: %w", name, err)
	}
	s.cache.Set(t)

	s.emit(event.KindToolUpdated, name, "current version set to "+version)
	s.logger.Info("tool current version changed", "name", name, "version", version)
	return nil
}

// ResolveDependencies returns the install list for the named revision
// (empty version means current). Other-tool dependencies expand
// transitively, each tool's own dependencies preceding the tool entry
// itself so installation order is safe. A name@version visited set
// guards against dependency cycles, and duplicate entries reached
// through different paths are emitted once. Unresolvable optional
// dependencies are skipped with a warning; required ones fail the
// resolution.
func (s *ToolRegistry) ResolveDependencies(ctx context.Context, name, version string) ([]tool.Dependency, error) {
	visited := make(map[string]bool)
	emitted := make(map[string]bool)
	var out []tool.Dependency

	var walk func(name, version string) error
	walk = func(name, version string) error {
		t, ok := s.cache.Get(name)
		if !ok {
			return fmt.Errorf("resolve %s: %w", name, tool.ErrToolNotFound)
		}
		if version == "" {
			version = t.CurrentVersion
		}
		key := name + "@" + version
		if visited[key] {
			return nil
		}
		visited[key] = true

		v, ok := t.Versions[version]
		if !ok {
			return fmt.Errorf("resolve %s: %w", key, tool.ErrVersionNotFound)
		}

		for _, dep := range v.Dependencies {
			if dep.Type == tool.DependencyTypeOtherTool {
				if err := walk(dep.Name, dep.Version); err != nil {
					if dep.Optional {
						s.logger.Warn("skipping unresolvable optional dependency",
							"tool", key, "dependency", dep.Name, "error", err)
						continue
					}
					return err
				}
			}
			entryKey := string(dep.Type) + ":" + dep.Name + "@" + dep.Version
			if emitted[entryKey] {
				continue
			}
			emitted[entryKey] = true
			out = append(out, dep)
		}
		return nil
	}

	if err := walk(name, version); err != nil {
		return nil, err
	}
	return out, nil
}

// InstallDependencies resolves the revision's dependency closure and
// hands it to the installer.
func (s *ToolRegistry) InstallDependencies(ctx context.Context, name, version string) (*outbound.InstallResult, error) {
	deps, err := s.ResolveDependencies(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if s.installer == nil {
		return nil, fmt.Errorf("dependency installer is not configured")
	}

	result, err := s.installer.Install(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("install dependencies for %s: %w", name, err)
	}

	s.emit(event.KindInstallerRun, name,
		fmt.Sprintf("installed %d, failed %d", len(result.Installed), len(result.Failed)))
	return result, nil
}

// CreateCategory stores a new category node, assigning an ID when the
// caller did not provide one.
func (s *ToolRegistry) CreateCategory(ctx context.Context, c *category.Category) error {
	if c == nil {
		return fmt.Errorf("category is nil")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	all, err := s.categoryIndex(ctx)
	if err != nil {
		return err
	}
	if err := category.CheckParent(all, c.ID, c.ParentID); err != nil {
		return err
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.categories.Create(ctx, c); err != nil {
		return fmt.Errorf("persist category %q: %w", c.Name, err)
	}
	s.logger.Info("category created", "id", c.ID, "name", c.Name)
	return nil
}

// GetCategory returns one category node.
func (s *ToolRegistry) GetCategory(ctx context.Context, id string) (*category.Category, error) {
	return s.categories.Get(ctx, id)
}

// UpdateCategory applies a partial update. Reparenting is cycle-checked
// against the full tree.
func (s *ToolRegistry) UpdateCategory(ctx context.Context, id string, update category.Update) (*category.Category, error) {
	existing, err := s.categories.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		existing.Name = *update.Name
	}
	if update.Description != nil {
		existing.Description = *update.Description
	}
	if update.ParentID != nil && *update.ParentID != existing.ParentID {
		all, err := s.categoryIndex(ctx)
		if err != nil {
			return nil, err
		}
		if err := category.CheckParent(all, id, *update.ParentID); err != nil {
			return nil, err
		}
		existing.ParentID = *update.ParentID
	}

	if err := existing.Validate(); err != nil {
		return nil, err
	}
	existing.UpdatedAt = time.Now().UTC()

	if err := s.categories.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("persist category %q: %w", id, err)
	}
	return existing, nil
}

// DeleteCategory removes a leaf category no tool references.
func (s *ToolRegistry) DeleteCategory(ctx context.Context, id string) error {
	children, err := s.categories.ListChildren(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: %d child categories", category.ErrCategoryInUse, len(children))
	}
	for _, t := range s.cache.List() {
		if t.Metadata != nil && t.Metadata.Category == id {
			return fmt.Errorf("%w: referenced by tool %q", category.ErrCategoryInUse, t.Name)
		}
	}
	if err := s.categories.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", "id", id)
	return nil
}

// ListCategories returns all category nodes.
func (s *ToolRegistry) ListCategories(ctx context.Context) ([]*category.Category, error) {
	return s.categories.List(ctx)
}

// CategoryTree returns the category forest with depth-annotated children,
// roots sorted by name.
func (s *ToolRegistry) CategoryTree(ctx context.Context) ([]*category.Node, error) {
	all, err := s.categories.List(ctx)
	if err != nil {
		return nil, err
	}
	return category.BuildTree(all), nil
}

func (s *ToolRegistry) categoryIndex(ctx context.Context) (map[string]*category.Category, error) {
	all, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	index := make(map[string]*category.Category, len(all))
	for _, c := range all {
		index[c.ID] = c
	}
	return index, nil
}

// ToolUsage is one entry of the stats top lists.
type ToolUsage struct {
	Name     string     `json:"name"`
	UseCount int64      `json:"useCount"`
	LastUsed *time.Time `json:"lastUsed,omitempty"`
}

// RegistryStats summarizes the registry.
type RegistryStats struct {
	TotalTools      int         `json:"totalTools"`
	TotalVersions   int         `json:"totalVersions"`
	TotalExecutions int64       `json:"totalExecutions"`
	ErrorRate       float64     `json:"errorRate"`
	RecentlyUsed    []ToolUsage `json:"recentlyUsed"`
	MostUsed        []ToolUsage `json:"mostUsed"`
}

// GetToolStats aggregates registry-wide counts plus the five most
// recently used and five most used tools.
func (s *ToolRegistry) GetToolStats(ctx context.Context) (*RegistryStats, error) {
	tools := s.cache.List()

	stats := &RegistryStats{TotalTools: len(tools)}
	var failed int64
	usages := make([]ToolUsage, 0, len(tools))
	for _, t := range tools {
		stats.TotalVersions += len(t.Versions)
		if t.Metrics != nil {
			stats.TotalExecutions += t.Metrics.ExecutionCount
			failed += t.Metrics.FailedExecutions
		}
		usage := ToolUsage{Name: t.Name}
		if t.Metadata != nil {
			usage.UseCount = t.Metadata.UseCount
			usage.LastUsed = t.Metadata.LastUsed
		}
		usages = append(usages, usage)
	}
	if stats.TotalExecutions > 0 {
		stats.ErrorRate = float64(failed) / float64(stats.TotalExecutions)
	}

	recent := append([]ToolUsage(nil), usages...)
	sort.Slice(recent, func(i, j int) bool {
		a, b := recent[i].LastUsed, recent[j].LastUsed
		switch {
		case a == nil && b == nil:
			return recent[i].Name < recent[j].Name
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	stats.RecentlyUsed = topUsages(recent)

	most := append([]ToolUsage(nil), usages...)
	sort.Slice(most, func(i, j int) bool {
		if most[i].UseCount != most[j].UseCount {
			return most[i].UseCount > most[j].UseCount
		}
		return most[i].Name < most[j].Name
	})
	stats.MostUsed = topUsages(most)

	return stats, nil
}

func topUsages(usages []ToolUsage) []ToolUsage {
	if len(usages) > statsTopN {
		usages = usages[:statsTopN]
	}
	return usages
}

// toolDraft is the JSON shape the draft prompt asks the model for.
type toolDraft struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  *schema.Schema `json:"inputSchema"`
	OutputSchema *schema.Schema `json:"outputSchema"`
	Code         string         `json:"code"`
}

// ProposeNewTool asks the completion model to draft a complete tool
// definition from a free-text description. The draft is validated like
// any registration but NOT registered; the caller decides whether to
// call AddTool with it.
func (s *ToolRegistry) ProposeNewTool(ctx context.Context, description string) (*tool.Tool, error) {
	if s.completer == nil {
		return nil, ErrLLMNotConfigured
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("tool description is empty")
	}

	response, err := s.completer.Complete(ctx, draftPrompt(description))
	if err != nil {
		return nil, fmt.Errorf("draft tool: %w", err)
	}

	raw := extractJSONObject(response)
	if raw == "" {
		return nil, fmt.Errorf("draft tool: model response contains no JSON object")
	}
	var draft toolDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("draft tool: parse model response: %w", err)
	}

	now := time.Now().UTC()
	t := &tool.Tool{
		Name:         draft.Name,
		Description:  draft.Description,
		InputSchema:  draft.InputSchema,
		OutputSchema: draft.OutputSchema,
		Versions: map[string]*tool.Version{
			draftVersion: {
				Version:   draftVersion,
				Code:      draft.Code,
				Author:    "llm",
				Changelog: "initial draft",
				CreatedAt: now,
			},
		},
		CurrentVersion: draftVersion,
		Metadata:       &tool.Metadata{Author: "llm"},
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("draft tool: model produced an invalid definition: %w", err)
	}

	s.logger.Info("tool draft proposed", "name", t.Name)
	return t, nil
}

// draftPrompt builds the tool-drafting prompt. The response contract is
// a single JSON object so extraction survives conversational padding.
func draftPrompt(description string) string {
	var b strings.Builder
	b.WriteString("Design a small automation tool for this task:\n\n")
	b.WriteString(description)
	b.WriteString("\n\nRespond with exactly one JSON object, no prose, shaped like:\n")
	b.WriteString(`{"name": "...", "description": "...", ` +
		`"inputSchema": {"type": "object", "properties": {...}, "required": [...]}, ` +
		`"outputSchema": {"type": "object", "properties": {...}}, "code": "..."}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- name: short, alphanumeric with spaces or hyphens.\n")
	b.WriteString("- code: Starlark (a Python dialect). Read the `input` dict and either assign the final value to `result` or define `main(input)` returning it.\n")
	b.WriteString("- The code's return value must match outputSchema.\n")
	return b.String()
}

// extractJSONObject returns the first balanced {...} block, honoring
// string literals and escapes, or "" when none exists.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// emit records an activity event when a recorder is wired.
func (s *ToolRegistry) emit(kind, subject, detail string) {
	if s.recorder == nil {
		return
	}
	if len(detail) > 512 {
		detail = detail[:512]
	}
	s.recorder.Emit(kind, subject, detail)
}

// embed computes and attaches the tool's embedding vector. Failure is
// non-fatal; the backfill loop retries later.
func (s *ToolRegistry) embed(ctx context.Context, t *tool.Tool) {
	if s.embedder == nil {
		return
	}
	vector, err := s.embedder.Embed(ctx, embeddingText(t))
	if err != nil {
		s.logger.Warn("embedding failed, tool will be backfilled",
			"tool", t.Name, "error", err)
		return
	}
	t.Embedding = vector
}

// embeddingText is the canonical text a tool is embedded from: name,
// description, and the sorted input property names.
func embeddingText(t *tool.Tool) string {
	parts := []string{t.Name, t.Description}
	if t.InputSchema != nil && len(t.InputSchema.Properties) > 0 {
		keys := make([]string, 0, len(t.InputSchema.Properties))
		for name := range t.InputSchema.Properties {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		parts = append(parts, strings.Join(keys, " "))
	}
	return strings.Join(parts, "\n")
}
