package db

import (
	"context"
	"fmt"
)

// InitSchema creates tables, indexes and change-capture triggers. It is safe
// to run on every open.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, tablesSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	changes := sqliteChangesSQL
	if s.dialect == DialectPostgres {
		changes = postgresChangesSQL
	}
	if _, err := s.db.ExecContext(ctx, changes); err != nil {
		return fmt.Errorf("init change capture: %w", err)
	}
	return nil
}

// SchemaReady reports whether the messages table exists.
func (s *Store) SchemaReady(ctx context.Context) (bool, error) {
	var query string
	switch s.dialect {
	case DialectPostgres:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'messages'"
	default:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'messages'"
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
