package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
)

// List returns all stored tools, name-sorted.
func (s *Store) List(ctx context.Context) ([]*tool.Tool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document, embedding FROM tools ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tools: %w", err)
	}
	defer rows.Close()

	var tools []*tool.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tools: %w", err)
	}
	return tools, nil
}

// Get returns a single tool by name.
// Returns tool.ErrToolNotFound if the tool does not exist.
func (s *Store) Get(ctx context.Context, name string) (*tool.Tool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document, embedding FROM tools WHERE name = ?`, name)
	t, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tool.ErrToolNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Add stores a new tool.
// Returns tool.ErrToolExists if the name is taken.
func (s *Store) Add(ctx context.Context, t *tool.Tool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tools WHERE name = ?`, t.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check tool existence: %w", err)
	}
	if exists > 0 {
		return tool.ErrToolExists
	}

	cols, err := toolColumns(t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tools (name, document, description, category, tags, metrics,
			use_count, last_used, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, cols.document, cols.description, cols.category, cols.tags,
		cols.metrics, cols.useCount, cols.lastUsed, cols.embedding,
		cols.createdAt, cols.updatedAt)
	if err != nil {
		return fmt.Errorf("insert tool: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tool insert: %w", err)
	}
	return nil
}

// Update replaces an existing tool.
// Returns tool.ErrToolNotFound if the tool does not exist.
func (s *Store) Update(ctx context.Context, t *tool.Tool) error {
	cols, err := toolColumns(t)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET document = ?, description = ?, category = ?, tags = ?,
			metrics = ?, use_count = ?, last_used = ?, embedding = ?,
			created_at = ?, updated_at = ?
		 WHERE name = ?`,
		cols.document, cols.description, cols.category, cols.tags, cols.metrics,
		cols.useCount, cols.lastUsed, cols.embedding, cols.createdAt,
		cols.updatedAt, t.Name)
	if err != nil {
		return fmt.Errorf("update tool: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tool rows affected: %w", err)
	}
	if affected == 0 {
		return tool.ErrToolNotFound
	}
	return nil
}

// Delete removes a tool and all its versions.
// Returns tool.ErrToolNotFound if the tool does not exist.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete tool: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tool rows affected: %w", err)
	}
	if affected == 0 {
		return tool.ErrToolNotFound
	}
	return nil
}

// columns is the flattened projection of one tool row.
type columns struct {
	document    string
	description string
	category    string
	tags        string
	metrics     string
	useCount    int64
	lastUsed    sql.NullInt64
	embedding   []byte
	createdAt   int64
	updatedAt   int64
}

func toolColumns(t *tool.Tool) (*columns, error) {
	document, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tool document: %w", err)
	}

	c := &columns{
		document:    string(document),
		description: t.Description,
		tags:        "[]",
		metrics:     "{}",
		embedding:   encodeEmbedding(t.Embedding),
		createdAt:   t.CreatedAt.Unix(),
		updatedAt:   t.UpdatedAt.Unix(),
	}

	if t.Metadata != nil {
		c.category = t.Metadata.Category
		c.useCount = t.Metadata.UseCount
		if t.Metadata.LastUsed != nil {
			c.lastUsed = sql.NullInt64{Int64: t.Metadata.LastUsed.Unix(), Valid: true}
		}
		if len(t.Metadata.Tags) > 0 {
			tags, err := json.Marshal(t.Metadata.Tags)
			if err != nil {
				return nil, fmt.Errorf("marshal tool tags: %w", err)
			}
			c.tags = string(tags)
		}
	}
	if t.Metrics != nil {
		metrics, err := json.Marshal(t.Metrics)
		if err != nil {
			return nil, fmt.Errorf("marshal tool metrics: %w", err)
		}
		c.metrics = string(metrics)
	}
	return c, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTool(row rowScanner) (*tool.Tool, error) {
	var document string
	var embedding []byte
	if err := row.Scan(&document, &embedding); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan tool: %w", err)
	}

	var t tool.Tool
	if err := json.Unmarshal([]byte(document), &t); err != nil {
		return nil, fmt.Errorf("unmarshal tool document: %w", err)
	}
	t.Embedding = decodeEmbedding(embedding)
	return &t, nil
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding is the inverse of encodeEmbedding. Trailing partial
// values are dropped.
func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// Compile-time interface verification.
var _ tool.Store = (*Store)(nil)
