package category

import "context"

// Store persists the category tree.
//
// Implementations: sqlite package.
type Store interface {
	// Create stores a new category. The store assigns nothing; ID and
	// timestamps are set by the caller.
	Create(ctx context.Context, c *Category) error

	// Get returns the category with the ID.
	// Returns ErrCategoryNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Category, error)

	// Update replaces the stored category.
	// Returns ErrCategoryNotFound if it does not exist.
	Update(ctx context.Context, c *Category) error

	// Delete removes the category with the ID.
	// Returns ErrCategoryNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// List returns all categories.
	List(ctx context.Context) ([]*Category, error)

	// ListChildren returns the direct children of the category.
	ListChildren(ctx context.Context, id string) ([]*Category, error)
}
