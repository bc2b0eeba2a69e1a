package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"

	_ "modernc.org/sqlite"
)

// sqlExecer is the subset shared by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type sqliteWriter struct {
	db sqlExecer
}

func (w sqliteWriter) Exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w sqliteWriter) Insert(ctx context.Context, table string, rows [][]any) (int64, error) {
	stmt, err := w.db.PrepareContext(ctx, insertSQL(table))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	var n int64
	args := make([]any, len(Columns))
	for _, row := range rows {
		for i, v := range row {
			args[i] = sqliteValue(Columns[i], v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, fmt.Errorf("sqlite: insert into %s: %w", table, err)
		}
		n++
	}
	return n, nil
}

// SQLiteStore writes to a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path. ":memory:"
// opens a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and each in-memory
	// connection is a separate database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Exec runs one statement outside any explicit transaction.
func (s *SQLiteStore) Exec(ctx context.Context, query string) error {
	return sqliteWriter{db: s.db}.Exec(ctx, query)
}

// Insert writes rows in their own transaction, so each chunk commits on its own.
func (s *SQLiteStore) Insert(ctx context.Context, table string, rows [][]any) (int64, error) {
	var n int64
	err := s.InTx(ctx, func(c Conn) error {
		var err error
		n, err = c.Insert(ctx, table, rows)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// InTx runs fn in one transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Conn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(sqliteWriter{db: tx}); err != nil {
		tx.Rollback() //nolint:errcheck // fn error takes precedence
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Count returns the number of rows in table.
func (s *SQLiteStore) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, countSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

// DB exposes the underlying handle for read-only queries.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Ping reports whether the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func insertSQL(table string) string {
	cols := make([]string, len(Columns))
	for i, c := range Columns {
		cols[i] = quote(c.Name)
	}
	return "INSERT INTO " + quote(table) + " (" + strings.Join(cols, ", ") +
		") VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(Columns)), ", ") + ")"
}

// sqliteValue stores timestamps and dates as local wall-clock text.
func sqliteValue(c Column, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if c.Kind == KindDate {
		return t.Format(domain.DateLayout)
	}
	return t.Format(domain.TimestampLayout)
}
