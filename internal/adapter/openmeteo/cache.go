package openmeteo

import (
	"container/list"
	"context"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
)

// CachedSource wraps a WeatherSource with an in-memory LRU cache keyed by date range.
// It lets a long-running serve process re-run the enrich stage without refetching.
type CachedSource struct {
	inner   domain.WeatherSource
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a weather source.
func NewCachedSource(inner domain.WeatherSource, maxEntries int, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedSource) FetchHourly(ctx context.Context, r domain.DateRange) ([]domain.HourlyWeatherObservation, error) {
	key := RangeKey(r)
	if obs, ok := c.cache.get(key); ok {
		c.metrics.WeatherCache.WithLabelValues("memory", "hit").Inc()
		return obs, nil
	}
	c.metrics.WeatherCache.WithLabelValues("memory", "miss").Inc()

	obs, err := c.inner.FetchHourly(ctx, r)
	if err != nil {
		return nil, err
	}
	// Empty series are not cached so a later run can pick up newly archived hours.
	if len(obs) > 0 {
		c.cache.put(key, obs)
	}
	return obs, nil
}

// RangeKey is the cache key for a date range.
func RangeKey(r domain.DateRange) string {
	return r.Start.Format(domain.DateLayout) + ".." + r.End.Format(domain.DateLayout) + "@" + r.Start.Location().String()
}

// SourceKey identifies the archive and reference point a series was fetched
// for. Caches shared across runs must include it in their keys, since the
// coordinates and base URL are configurable.
func SourceKey(cfg config.WeatherConfig) string {
	return strconv.FormatFloat(cfg.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(cfg.Longitude, 'f', -1, 64) + "@" +
		strconv.FormatUint(xxhash.Sum64String(cfg.BaseURL), 16)
}

// lruCache is a thread-safe LRU cache of weather series.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List // front is most recently used
	entries    map[string]*list.Element
}

type entry struct {
	key   string
	value []domain.HourlyWeatherObservation
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) ([]domain.HourlyWeatherObservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).value, true
}

func (c *lruCache) put(key string, value []domain.HourlyWeatherObservation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).value = value
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, value: value})

	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
