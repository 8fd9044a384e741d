package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_windows (
		limiter TEXT NOT NULL,
		key TEXT NOT NULL,
		timestamps TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (limiter, key)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rate_windows_updated ON rate_windows(updated_at);`,
	`CREATE TABLE IF NOT EXISTS state_parts (
		owner TEXT NOT NULL,
		part INTEGER NOT NULL,
		total INTEGER NOT NULL,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (owner, part)
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if err := s.ensureColumn(ctx, "state_parts", "checksum", "TEXT"); err != nil {
		return err
	}

	return nil
}

// ErrNotInitialized is returned by every method on a nil or closed Store.
var ErrNotInitialized = errors.New("store is not initialized")

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}
