package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	data     map[string]string
	ttls     map[string]time.Duration
	getErr   error
	setErr   error
	setCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.setCalls++
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

type countingSource struct {
	calls int
	obs   []domain.HourlyWeatherObservation
	err   error
}

func (m *countingSource) FetchHourly(_ context.Context, _ domain.DateRange) ([]domain.HourlyWeatherObservation, error) {
	m.calls++
	return m.obs, m.err
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func series(loc *time.Location) []domain.HourlyWeatherObservation {
	temp, code := -1.5, 71
	return []domain.HourlyWeatherObservation{
		{Time: time.Date(2016, 1, 23, 9, 0, 0, 0, loc), TemperatureC: &temp, WeatherCode: &code},
	}
}

const testSource = "40.7128,-74.006@1"

func newTestCache(inner domain.WeatherSource, s store) (*CachedSource, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return newCachedSource(inner, s, testSource, time.Hour, metrics, slog.New(slog.NewTextHandler(io.Discard, nil))), metrics
}

func TestCachedSource_MissThenHit(t *testing.T) {
	loc := newYork(t)
	inner := &countingSource{obs: series(loc)}
	s := newFakeStore()
	cache, metrics := newTestCache(inner, s)
	day := time.Date(2016, 1, 23, 0, 0, 0, 0, loc)
	r := domain.DateRange{Start: day, End: day}

	first, err := cache.FetchHourly(context.Background(), r)
	require.NoError(t, err)
	second, err := cache.FetchHourly(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, time.Hour, s.ttls[keyPrefix+testSource+":2016-01-23..2016-01-23@America/New_York"])
	require.Len(t, second, 1)
	assert.True(t, first[0].Time.Equal(second[0].Time))
	assert.Equal(t, 9, second[0].Time.Hour(), "wall clock survives the round trip")
	assert.Equal(t, -1.5, *second[0].TemperatureC)
	assert.Equal(t, 71, *second[0].WeatherCode)
	assert.Nil(t, second[0].RainMm)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WeatherCache.WithLabelValues("redis", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WeatherCache.WithLabelValues("redis", "miss")))
}

func TestCachedSource_RedisDownFallsThrough(t *testing.T) {
	loc := newYork(t)
	inner := &countingSource{obs: series(loc)}
	s := newFakeStore()
	s.getErr = errors.New("connection refused")
	s.setErr = errors.New("connection refused")
	cache, _ := newTestCache(inner, s)

	obs, err := cache.FetchHourly(context.Background(), domain.DateRange{Start: time.Now(), End: time.Now()})
	require.NoError(t, err)
	assert.Len(t, obs, 1)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, s.setCalls)
}

func TestCachedSource_CorruptEntryRefetched(t *testing.T) {
	loc := newYork(t)
	day := time.Date(2016, 1, 23, 0, 0, 0, 0, loc)
	r := domain.DateRange{Start: day, End: day}
	inner := &countingSource{obs: series(loc)}
	s := newFakeStore()
	s.data[keyPrefix+testSource+":2016-01-23..2016-01-23@America/New_York"] = "{garbage"
	cache, _ := newTestCache(inner, s)

	obs, err := cache.FetchHourly(context.Background(), r)
	require.NoError(t, err)
	assert.Len(t, obs, 1)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedSource_InnerErrorNotCached(t *testing.T) {
	inner := &countingSource{err: domain.ErrWeatherFetch}
	s := newFakeStore()
	cache, _ := newTestCache(inner, s)

	_, err := cache.FetchHourly(context.Background(), domain.DateRange{Start: time.Now(), End: time.Now()})
	assert.ErrorIs(t, err, domain.ErrWeatherFetch)
	assert.Equal(t, 0, s.setCalls)
}

func TestCachedSource_EmptySeriesNotCached(t *testing.T) {
	inner := &countingSource{}
	s := newFakeStore()
	cache, _ := newTestCache(inner, s)

	obs, err := cache.FetchHourly(context.Background(), domain.DateRange{Start: time.Now(), End: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, obs)
	assert.Equal(t, 0, s.setCalls)
}

func TestCachedSource_ReferencePointsDoNotShareEntries(t *testing.T) {
	loc := newYork(t)
	// The stub reports the requested latitude as the temperature.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test stub
			"hourly": map[string]any{
				"time":           []string{"2016-01-23T09:00"},
				"temperature_2m": []json.RawMessage{json.RawMessage(r.URL.Query().Get("latitude"))},
			},
		})
	}))
	t.Cleanup(srv.Close)

	s := newFakeStore()
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cached := func(lat, lon float64) *CachedSource {
		cfg := config.WeatherConfig{BaseURL: srv.URL, Latitude: lat, Longitude: lon, Timeout: 5 * time.Second}
		client := openmeteo.NewClient(cfg, loc, metrics, logger)
		return newCachedSource(client, s, openmeteo.SourceKey(cfg), time.Hour, metrics, logger)
	}
	nyc := cached(40.7128, -74.006)
	london := cached(51.5, -0.1276)

	day := time.Date(2016, 1, 23, 0, 0, 0, 0, loc)
	r := domain.DateRange{Start: day, End: day}

	first, err := nyc.FetchHourly(context.Background(), r)
	require.NoError(t, err)
	second, err := london.FetchHourly(context.Background(), r)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, 40.7128, *first[0].TemperatureC)
	assert.Equal(t, 51.5, *second[0].TemperatureC)
	assert.Len(t, s.data, 2)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not-a-redis-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}
