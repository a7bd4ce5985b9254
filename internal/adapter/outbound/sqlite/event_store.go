package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/event"
)

// AppendEvents writes a batch of activity records in one transaction.
func (s *Store) AppendEvents(ctx context.Context, records ...event.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (kind, subject, detail, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		at := r.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.Kind, r.Subject, r.Detail, at.Unix()); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// ListEvents returns activity records newest first, capped at limit
// (0 = 100).
func (s *Store) ListEvents(ctx context.Context, limit int) ([]event.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, subject, detail, created_at
		 FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		var r event.Record
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Subject, &r.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// PruneEvents deletes activity records older than the cutoff and
// returns how many were removed.
func (s *Store) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// eventStore adapts *Store to the event.Store interface. The prefixed
// method names avoid clashing with the tool store methods.
type eventStore struct {
	*Store
}

func (s eventStore) Append(ctx context.Context, records ...event.Record) error {
	return s.AppendEvents(ctx, records...)
}

func (s eventStore) List(ctx context.Context, limit int) ([]event.Record, error) {
	return s.ListEvents(ctx, limit)
}

func (s eventStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.PruneEvents(ctx, olderThan)
}

// Events returns the event.Store view of this database.
func (s *Store) Events() event.Store {
	return eventStore{s}
}

// Compile-time interface verification.
var _ event.Store = (eventStore{})
