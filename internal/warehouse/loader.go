package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
)

// Conn executes statements against the warehouse, either directly or inside
// a transaction.
type Conn interface {
	Exec(ctx context.Context, sql string) error
	// Insert appends rows, each in Columns order, and returns the number written.
	Insert(ctx context.Context, table string, rows [][]any) (int64, error)
}

// Store is a warehouse backend.
type Store interface {
	Conn
	// InTx runs fn in one transaction, committing only if fn succeeds.
	InTx(ctx context.Context, fn func(Conn) error) error
	Count(ctx context.Context, table string) (int64, error)
	Close() error
}

// Loader replaces the warehouse table with a new copy of the enriched dataset.
type Loader struct {
	store   Store
	cfg     config.WarehouseConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewLoader creates a loader writing to store.
func NewLoader(store Store, cfg config.WarehouseConfig, metrics *observability.Metrics, logger *slog.Logger) *Loader {
	return &Loader{store: store, cfg: cfg, metrics: metrics, logger: logger}
}

// Load drops the table, recreates it with the explicit column schema, writes
// every chunk from src, and creates the indexes. In transactional mode the
// whole sequence commits atomically, so a failure leaves the previous table in
// place and is reported as ErrLoadRolledBack. Otherwise each statement commits
// on its own and a failure leaves a partially loaded table, reported as
// ErrPartialLoad. Load returns the persisted row count, which must equal the
// number of rows written; a mismatch is ErrPartialLoad.
func (l *Loader) Load(ctx context.Context, src domain.TripSource) (int64, error) {
	var written int64
	replace := func(c Conn) error {
		n, err := l.replace(ctx, c, src)
		written = n
		return err
	}

	if l.cfg.Transactional {
		if err := l.store.InTx(ctx, replace); err != nil {
			return 0, fmt.Errorf("%w: table %s unchanged: %w", domain.ErrLoadRolledBack, l.cfg.Table, err)
		}
	} else if err := replace(l.store); err != nil {
		return 0, fmt.Errorf("%w: table %s after %d rows: %w", domain.ErrPartialLoad, l.cfg.Table, written, err)
	}

	persisted, err := l.store.Count(ctx, l.cfg.Table)
	if err != nil {
		return 0, fmt.Errorf("%w: count rows in %s: %w", domain.ErrPartialLoad, l.cfg.Table, err)
	}
	if persisted != written {
		return persisted, fmt.Errorf("%w: table %s has %d rows, wrote %d", domain.ErrPartialLoad, l.cfg.Table, persisted, written)
	}

	l.logger.Info("warehouse load complete",
		"table", l.cfg.Table,
		"rows", persisted,
		"transactional", l.cfg.Transactional,
	)
	return persisted, nil
}

func (l *Loader) replace(ctx context.Context, c Conn, src domain.TripSource) (int64, error) {
	table := l.cfg.Table
	if err := c.Exec(ctx, dropTableSQL(table)); err != nil {
		return 0, fmt.Errorf("drop table: %w", err)
	}
	if err := c.Exec(ctx, createTableSQL(table)); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	var total int64
	for chunk := 1; ; chunk++ {
		trips, err := src.Next(l.cfg.ChunkSize)
		if len(trips) > 0 {
			rows := make([][]any, len(trips))
			for i := range trips {
				rows[i] = rowValues(&trips[i])
			}
			n, werr := c.Insert(ctx, table, rows)
			total += n
			if werr != nil {
				return total, fmt.Errorf("write chunk %d: %w", chunk, werr)
			}
			l.metrics.ChunksLoaded.Inc()
			l.metrics.RowsLoaded.Add(float64(n))
			l.logger.Info("chunk loaded", "table", table, "chunk", chunk, "rows", n, "total", total)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("read chunk %d: %w", chunk, err)
		}
	}

	for _, idx := range Indexes(table) {
		if err := c.Exec(ctx, createIndexSQL(table, idx)); err != nil {
			return total, fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	return total, nil
}
