package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/category"
)

// CreateCategory stores a new category.
func (s *Store) CreateCategory(ctx context.Context, c *category.Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name, description, parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.ParentID, c.CreatedAt.Unix(), c.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// GetCategory returns the category with the ID.
// Returns category.ErrCategoryNotFound if it does not exist.
func (s *Store) GetCategory(ctx context.Context, id string) (*category.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, parent_id, created_at, updated_at
		 FROM categories WHERE id = ?`, id)

	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, category.ErrCategoryNotFound
	}
	return c, err
}

// UpdateCategory replaces the stored category.
// Returns category.ErrCategoryNotFound if it does not exist.
func (s *Store) UpdateCategory(ctx context.Context, c *category.Category) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, description = ?, parent_id = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Description, c.ParentID, c.UpdatedAt.Unix(), c.ID)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update category rows affected: %w", err)
	}
	if affected == 0 {
		return category.ErrCategoryNotFound
	}
	return nil
}

// DeleteCategory removes the category with the ID.
// Returns category.ErrCategoryNotFound if it does not exist.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete category rows affected: %w", err)
	}
	if affected == 0 {
		return category.ErrCategoryNotFound
	}
	return nil
}

// ListCategories returns all categories, name-sorted.
func (s *Store) ListCategories(ctx context.Context) ([]*category.Category, error) {
	return s.queryCategories(ctx,
		`SELECT id, name, description, parent_id, created_at, updated_at
		 FROM categories ORDER BY name`)
}

// ListCategoryChildren returns the direct children of the category.
func (s *Store) ListCategoryChildren(ctx context.Context, id string) ([]*category.Category, error) {
	return s.queryCategories(ctx,
		`SELECT id, name, description, parent_id, created_at, updated_at
		 FROM categories WHERE parent_id = ? ORDER BY name`, id)
}

func (s *Store) queryCategories(ctx context.Context, query string, args ...any) ([]*category.Category, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []*category.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}

func scanCategory(row rowScanner) (*category.Category, error) {
	var c category.Category
	var createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.ParentID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan category: %w", err)
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &c, nil
}

// categoryStore adapts Store to the category.Store interface, which
// uses unprefixed method names.
type categoryStore struct {
	*Store
}

// Categories returns the category.Store view of this store.
func (s *Store) Categories() category.Store {
	return categoryStore{s}
}

func (a categoryStore) Create(ctx context.Context, c *category.Category) error {
	return a.CreateCategory(ctx, c)
}

func (a categoryStore) Get(ctx context.Context, id string) (*category.Category, error) {
	return a.GetCategory(ctx, id)
}

func (a categoryStore) Update(ctx context.Context, c *category.Category) error {
	return a.UpdateCategory(ctx, c)
}

func (a categoryStore) Delete(ctx context.Context, id string) error {
	return a.DeleteCategory(ctx, id)
}

func (a categoryStore) List(ctx context.Context) ([]*category.Category, error) {
	return a.ListCategories(ctx)
}

func (a categoryStore) ListChildren(ctx context.Context, id string) ([]*category.Category, error) {
	return a.ListCategoryChildren(ctx, id)
}

// Compile-time interface verification.
var _ category.Store = (categoryStore{})
