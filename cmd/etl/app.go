package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/kafka"
	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/rediscache"
	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/model"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
	"github.com/couchcryptid/taxi-trip-etl/internal/pipeline"
	"github.com/couchcryptid/taxi-trip-etl/internal/warehouse"
	"github.com/jonboulle/clockwork"
)

const (
	pushJob          = "taxi_etl"
	warehouseMaxWait = 30 * time.Second
	pushTimeout      = 10 * time.Second
)

type appOptions struct {
	// warehouse opens the warehouse connection; only load and serve need it.
	warehouse bool
}

// app holds the wired pipeline and everything that must be closed on exit.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	pipeline *pipeline.Pipeline
	closers  []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	a := &app{cfg: cfg, logger: logger, metrics: metrics}

	weather, err := a.weatherSource(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	deps := pipeline.Deps{
		Weather: weather,
		Trainer: model.NewTrainer(cfg.Train, clock, logger),
		Clock:   clock,
		Metrics: metrics,
		Logger:  logger,
	}

	if opts.warehouse {
		store, err := openStore(ctx, cfg.Warehouse, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, store)
		deps.Loader = warehouse.NewLoader(store, cfg.Warehouse, metrics, logger)
		deps.Warehouse = store
		logger.Info("warehouse connected", "driver", cfg.Warehouse.Driver, "table", cfg.Warehouse.Table)
	}

	if cfg.Kafka.Enabled {
		publisher := kafka.NewPublisher(cfg.Kafka, metrics, logger)
		a.closers = append(a.closers, publisher)
		deps.Publisher = publisher
		logger.Info("kafka publishing enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	a.pipeline = pipeline.New(cfg, deps)
	return a, nil
}

// weatherSource builds the archive client behind the optional Redis and
// in-process caches. The LRU sits outermost so repeat ranges skip Redis too.
func (a *app) weatherSource(ctx context.Context) (domain.WeatherSource, error) {
	wc := a.cfg.Weather
	var src domain.WeatherSource = openmeteo.NewClient(wc, a.cfg.Location, a.metrics, a.logger)

	if wc.RedisURL != "" {
		client, err := rediscache.NewClient(ctx, wc.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		src = rediscache.NewCachedSource(src, client, openmeteo.SourceKey(wc), wc.CacheTTL, a.metrics, a.logger)
		a.logger.Info("redis weather cache enabled", "ttl", wc.CacheTTL)
	}
	if wc.CacheSize > 0 {
		src = openmeteo.NewCachedSource(src, wc.CacheSize, a.metrics)
	}
	return src, nil
}

type store interface {
	warehouse.Store
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg config.WarehouseConfig, logger *slog.Logger) (store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return warehouse.NewSQLiteStore(ctx, cfg.DSN)
	case config.DriverPostgres:
		return warehouse.NewPostgresStore(ctx, cfg.DSN, warehouseMaxWait, logger)
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
}

// push sends the run's metrics to the Pushgateway, if one is configured.
// Failures are logged and never change the exit status.
func (a *app) push() {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, pushJob); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("close error", "error", err)
		}
	}
}
