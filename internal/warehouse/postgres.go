package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgConn is the subset shared by *pgxpool.Pool and pgx.Tx.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

type pgWriter struct {
	conn pgConn
}

func (w pgWriter) Exec(ctx context.Context, sql string) error {
	_, err := w.conn.Exec(ctx, sql)
	return err
}

func (w pgWriter) Insert(ctx context.Context, table string, rows [][]any) (int64, error) {
	n, err := w.conn.CopyFrom(ctx, pgx.Identifier{table}, ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	return n, nil
}

// PostgresStore writes to Postgres through a pgx connection pool. Rows are
// streamed with COPY.
type PostgresStore struct {
	pgWriter
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool for dsn and waits for the server to accept
// connections, retrying the ping with exponential backoff up to maxWait.
func NewPostgresStore(ctx context.Context, dsn string, maxWait time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	ping := func() error { return pool.Ping(ctx) }
	notify := func(err error, wait time.Duration) {
		logger.Warn("warehouse not ready, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(bo, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresStore{pgWriter: pgWriter{conn: pool}, pool: pool}, nil
}

// InTx runs fn in a transaction. DDL is transactional in Postgres, so the
// drop, create, and every chunk commit together.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Conn) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(pgWriter{conn: tx})
	})
}

// Count returns the number of rows in table.
func (s *PostgresStore) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, countSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

// Ping reports whether the server is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
