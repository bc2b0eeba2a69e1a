// Package rediscache shares fetched weather series across pipeline runs.
//
// Archive hours are immutable once published, so a series for a closed date
// range can be reused by later runs, or by other workers enriching the same
// months, until the TTL expires.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taxi-etl:weather:"

// store is the subset of *redis.Client the cache needs.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedSource wraps a WeatherSource with a Redis-backed cache. Redis failures
// are logged and fall through to the inner source; they never fail a fetch.
type CachedSource struct {
	inner   domain.WeatherSource
	store   store
	source  string
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient parses a redis:// URL and verifies the server answers a ping.
func NewClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewCachedSource creates a cache decorator storing series under ttl. Keys are
// scoped by source, the openmeteo.SourceKey of the inner client, so runs
// against another reference point never share entries.
func NewCachedSource(inner domain.WeatherSource, client *redis.Client, source string, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CachedSource {
	return newCachedSource(inner, client, source, ttl, metrics, logger)
}

func newCachedSource(inner domain.WeatherSource, s store, source string, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CachedSource {
	return &CachedSource{inner: inner, store: s, source: source, ttl: ttl, metrics: metrics, logger: logger}
}

func (c *CachedSource) FetchHourly(ctx context.Context, r domain.DateRange) ([]domain.HourlyWeatherObservation, error) {
	key := keyPrefix + c.source + ":" + openmeteo.RangeKey(r)

	if obs, ok := c.lookup(ctx, key); ok {
		c.metrics.WeatherCache.WithLabelValues("redis", "hit").Inc()
		return obs, nil
	}
	c.metrics.WeatherCache.WithLabelValues("redis", "miss").Inc()

	obs, err := c.inner.FetchHourly(ctx, r)
	if err != nil {
		return nil, err
	}
	if len(obs) > 0 {
		c.save(ctx, key, obs)
	}
	return obs, nil
}

func (c *CachedSource) lookup(ctx context.Context, key string) ([]domain.HourlyWeatherObservation, bool) {
	data, err := c.store.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("weather cache read failed", "key", key, "error", err)
		return nil, false
	}

	var obs []domain.HourlyWeatherObservation
	if err := json.Unmarshal(data, &obs); err != nil {
		c.logger.Warn("weather cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return obs, true
}

func (c *CachedSource) save(ctx context.Context, key string, obs []domain.HourlyWeatherObservation) {
	data, err := json.Marshal(obs)
	if err != nil {
		c.logger.Warn("weather cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("weather cache write failed", "key", key, "error", err)
	}
}
