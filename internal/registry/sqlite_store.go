package registry

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"liquidity-router/internal/domain"
)

// SQLiteStore persists adapter records in SQLite so the allow-list
// survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS adapters (
			adapter_id TEXT PRIMARY KEY,
			whitelisted BOOLEAN NOT NULL,
			added_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create adapters table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a record.
func (s *SQLiteStore) Put(ctx context.Context, rec *domain.AdapterRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adapters (adapter_id, whitelisted, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(adapter_id) DO UPDATE SET
			whitelisted = excluded.whitelisted,
			added_at = excluded.added_at
	`, rec.AdapterID, rec.Whitelisted, rec.AddedAt)
	if err != nil {
		return fmt.Errorf("put adapter: %w", err)
	}
	return nil
}

// Get retrieves a record by adapter ID.
func (s *SQLiteStore) Get(ctx context.Context, adapterID string) (*domain.AdapterRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT adapter_id, whitelisted, added_at FROM adapters WHERE adapter_id = ?
	`, adapterID)

	var rec domain.AdapterRecord
	if err := row.Scan(&rec.AdapterID, &rec.Whitelisted, &rec.AddedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get adapter: %w", err)
	}
	return &rec, nil
}

// Delete removes a record.
func (s *SQLiteStore) Delete(ctx context.Context, adapterID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM adapters WHERE adapter_id = ?`, adapterID)
	if err != nil {
		return fmt.Errorf("delete adapter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete adapter: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all records ordered by adapter ID.
func (s *SQLiteStore) List(ctx context.Context) ([]*domain.AdapterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT adapter_id, whitelisted, added_at FROM adapters ORDER BY adapter_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}
	defer rows.Close()

	var out []*domain.AdapterRecord
	for rows.Next() {
		var rec domain.AdapterRecord
		if err := rows.Scan(&rec.AdapterID, &rec.Whitelisted, &rec.AddedAt); err != nil {
			return nil, fmt.Errorf("scan adapter: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
