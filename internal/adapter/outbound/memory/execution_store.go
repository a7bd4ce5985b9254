package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
)

// Default cleanup interval for expired execution records.
const DefaultCleanupInterval = 1 * time.Minute

// DefaultRetention is how long terminal executions stay pollable before
// the background cleanup removes them. History beyond this window lives
// in the persistent store.
const DefaultRetention = 1 * time.Hour

// MemoryExecutionStore implements workflow.ExecutionStore with an
// in-memory map. Thread-safe for concurrent access. Background cleanup
// removes terminal executions once their retention window passes;
// running executions are never removed.
type MemoryExecutionStore struct {
	executions      map[string]*executionEntry
	mu              sync.RWMutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	retention       time.Duration
	once            sync.Once // Prevent double-close panic on Stop()
}

type executionEntry struct {
	execution *workflow.Execution
	// finishedAt is when the entry became terminal; zero while running.
	finishedAt time.Time
}

// NewExecutionStore creates a new in-memory execution store with default
// cleanup interval and retention.
func NewExecutionStore() *MemoryExecutionStore {
	return NewExecutionStoreWithConfig(DefaultCleanupInterval, DefaultRetention)
}

// NewExecutionStoreWithConfig creates a new in-memory execution store
// with custom cleanup interval and retention window.
func NewExecutionStoreWithConfig(cleanupInterval, retention time.Duration) *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions:      make(map[string]*executionEntry),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		retention:       retention,
	}
}

// StartCleanup starts the background cleanup goroutine.
// Call Stop() to stop it gracefully.
func (s *MemoryExecutionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes terminal executions whose retention window has passed.
func (s *MemoryExecutionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	cleaned := 0
	for id, entry := range s.executions {
		if !entry.finishedAt.IsZero() && entry.finishedAt.Before(cutoff) {
			delete(s.executions, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("cleaned expired workflow executions", "count", cleaned)
	}
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *MemoryExecutionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Put stores or replaces the execution snapshot.
func (s *MemoryExecutionStore) Put(ctx context.Context, e *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &executionEntry{execution: e.Clone()}
	if e.Finished() {
		entry.finishedAt = time.Now()
	}
	s.executions[e.ID] = entry
	return nil
}

// Get retrieves an execution by ID.
// Returns workflow.ErrExecutionNotFound if it does not exist.
func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*workflow.Execution, error) {
	s.mu.RLock()
	entry, ok := s.executions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, workflow.ErrExecutionNotFound
	}

	// Return a copy to prevent mutation
	return entry.execution.Clone(), nil
}

// List returns executions newest first, filtered by workflow when
// workflowID is non-empty.
func (s *MemoryExecutionStore) List(ctx context.Context, workflowID string) ([]*workflow.Execution, error) {
	s.mu.RLock()
	out := make([]*workflow.Execution, 0, len(s.executions))
	for _, entry := range s.executions {
		if workflowID != "" && entry.execution.WorkflowID != workflowID {
			continue
		}
		out = append(out, entry.execution.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Delete removes an execution.
// Returns workflow.ErrExecutionNotFound if it does not exist.
func (s *MemoryExecutionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[id]; !ok {
		return workflow.ErrExecutionNotFound
	}
	delete(s.executions, id)
	return nil
}

// Size returns the number of executions currently stored.
// Useful for testing cleanup behavior.
func (s *MemoryExecutionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

// Compile-time interface verification.
var _ workflow.ExecutionStore = (*MemoryExecutionStore)(nil)
