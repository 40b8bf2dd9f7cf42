package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL flavour differences between the supported drivers.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is the database/sql implementation of the message platform.
type Store struct {
	db      *sql.DB
	dialect Dialect
	path    string
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) the SQLite database at path and
// ensures the schema.
func OpenSQLite(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	store := NewStore(conn, DialectSQLite)
	store.path = path
	if err := store.InitSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects through the pgx stdlib driver and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewStore(conn, DialectPostgres)
	if err := store.InitSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an open connection. The schema is not touched.
func NewStore(conn *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      conn,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying connection.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL flavour of the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// Path is the SQLite file path, empty for Postgres.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// timestamp returns the current time truncated to the stored precision.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var out strings.Builder
	out.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			continue
		}
		out.WriteByte(query[i])
	}
	return out.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
