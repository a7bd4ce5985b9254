package tool

import (
	"context"
	"errors"
)

// Sentinel errors for tool operations.
var (
	// ErrToolNotFound is returned when no tool with the given name exists.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolExists is returned when a tool name is already registered.
	ErrToolExists = errors.New("tool already exists")
	// ErrVersionNotFound is returned when a tool has no such version.
	ErrVersionNotFound = errors.New("tool version not found")
	// ErrVersionExists is returned when a version string is already stored.
	ErrVersionExists = errors.New("tool version already exists")
	// ErrInvalidTool is returned when a definition fails validation.
	ErrInvalidTool = errors.New("invalid tool definition")
	// ErrNameImmutable is returned when an update attempts to rename a tool.
	ErrNameImmutable = errors.New("tool name is immutable")
)

// Store provides persistent CRUD for tool definitions.
// This is a port (interface) in the hexagonal architecture.
// Implementations: sqlite package.
type Store interface {
	// List returns all stored tools.
	List(ctx context.Context) ([]*Tool, error)
	// Get returns a single tool by name.
	// Returns ErrToolNotFound if the tool does not exist.
	Get(ctx context.Context, name string) (*Tool, error)
	// Add stores a new tool.
	// Returns ErrToolExists if the name is taken.
	Add(ctx context.Context, t *Tool) error
	// Update replaces an existing tool.
	// Returns ErrToolNotFound if the tool does not exist.
	Update(ctx context.Context, t *Tool) error
	// Delete removes a tool and all its versions.
	// Returns ErrToolNotFound if the tool does not exist.
	Delete(ctx context.Context, name string) error
}

// Cache is the in-memory working set the registry reads from. It is
// authoritative after being populated from the Store; writes go to the
// Store first and the Cache only after the persistent write succeeds.
// Implementations: memory package.
type Cache interface {
	// Get returns a deep copy of the cached tool, or false.
	Get(name string) (*Tool, bool)
	// Set stores a deep copy of the tool.
	Set(t *Tool)
	// Delete removes the tool from the cache.
	Delete(name string)
	// List returns deep copies of all cached tools.
	List() []*Tool
	// Count returns the number of cached tools.
	Count() int
}
