package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/model"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
	"github.com/couchcryptid/taxi-trip-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockWeather struct {
	mu      sync.Mutex
	calls   []domain.DateRange
	obs     []domain.HourlyWeatherObservation
	err     error
	block   chan struct{} // when set, FetchHourly waits for it to close
	started chan struct{}
}

func (m *mockWeather) FetchHourly(ctx context.Context, r domain.DateRange) ([]domain.HourlyWeatherObservation, error) {
	m.mu.Lock()
	m.calls = append(m.calls, r)
	m.mu.Unlock()
	if m.block != nil {
		close(m.started)
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.obs, m.err
}

type mockLoader struct {
	rows int
	err  error
}

func (m *mockLoader) Load(_ context.Context, src domain.TripSource) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	for {
		trips, err := src.Next(7)
		m.rows += len(trips)
		if errors.Is(err, io.EOF) {
			return int64(m.rows), nil
		}
		if err != nil {
			return 0, err
		}
	}
}

type mockPublisher struct {
	ids   []string
	runID string
}

func (m *mockPublisher) Publish(_ context.Context, src domain.TripSource, runID string, _ time.Time) (int, error) {
	m.runID = runID
	for {
		trips, err := src.Next(100)
		for _, tr := range trips {
			m.ids = append(m.ids, tr.ID)
		}
		if errors.Is(err, io.EOF) {
			return len(m.ids), nil
		}
		if err != nil {
			return 0, err
		}
	}
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

// --- fixtures ---

var (
	newYork, _ = time.LoadLocation("America/New_York")
	runDay     = time.Date(2016, 3, 14, 0, 0, 0, 0, newYork)
)

func rawTrip(i int) domain.RawTrip {
	pickup := runDay.Add(8*time.Hour + time.Duration(i)*7*time.Minute)
	duration := 300 + 60*(i%10)
	return domain.RawTrip{
		ID:               fmt.Sprintf("id%04d", i),
		VendorID:         1 + i%2,
		PickupDatetime:   pickup,
		DropoffDatetime:  pickup.Add(time.Duration(duration) * time.Second),
		PassengerCount:   1 + i%4,
		PickupLatitude:   40.7580 + float64(i%10)*0.002,
		PickupLongitude:  -73.9855,
		DropoffLatitude:  40.7484,
		DropoffLongitude: -73.9857 - float64(i%5)*0.002,
		StoreAndFwdFlag:  "N",
		TripDuration:     duration,
	}
}

func hourlyWeather() []domain.HourlyWeatherObservation {
	var obs []domain.HourlyWeatherObservation
	for h := 0; h < 24; h++ {
		temp := 5 + float64(h)/2
		humidity := 70.0
		precip := 0.0
		if h%3 == 0 {
			precip = 1.2
		}
		wind := 15.0
		code := 3
		if precip > 0 {
			code = 61
		}
		obs = append(obs, domain.HourlyWeatherObservation{
			Time:            runDay.Add(time.Duration(h) * time.Hour),
			TemperatureC:    &temp,
			HumidityPct:     &humidity,
			PrecipitationMm: &precip,
			RainMm:          &precip,
			SnowfallMm:      new(float64),
			WindSpeedKmh:    &wind,
			WeatherCode:     &code,
		})
	}
	return obs
}

type harness struct {
	cfg       *config.Config
	weather   *mockWeather
	loader    *mockLoader
	publisher *mockPublisher
	metrics   *observability.Metrics
	deps      pipeline.Deps
}

func newHarness(t *testing.T, raw []domain.RawTrip) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Paths: config.Paths{
			Raw:       filepath.Join(dir, "raw", "train.csv"),
			Processed: filepath.Join(dir, "processed", "cleaned.csv"),
			Enriched:  filepath.Join(dir, "processed", "enriched.csv"),
			Model:     filepath.Join(dir, "models", "model.json.zst"),
			Metrics:   filepath.Join(dir, "models", "model_metrics.txt"),
		},
		Location: newYork,
		Train:    config.TrainConfig{SampleCap: 1000, Seed: 42, Trees: 5, Workers: 2},
	}
	require.NoError(t, csvfile.WriteRawFile(cfg.Paths.Raw, raw))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC))
	h := &harness{
		cfg:     cfg,
		weather: &mockWeather{obs: hourlyWeather()},
		loader:  &mockLoader{},
		metrics: observability.NewMetricsForTesting(),
	}
	h.deps = pipeline.Deps{
		Weather: h.weather,
		Trainer: model.NewTrainer(cfg.Train, clock, logger),
		Loader:  h.loader,
		Clock:   clock,
		Metrics: h.metrics,
		Logger:  logger,
	}
	return h
}

func (h *harness) pipeline() *pipeline.Pipeline {
	return pipeline.New(h.cfg, h.deps)
}

func manyTrips(n int) []domain.RawTrip {
	out := make([]domain.RawTrip, n)
	for i := range out {
		out[i] = rawTrip(i)
	}
	return out
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	raw := manyTrips(60)
	raw[3].TripDuration = 30
	raw[7].PassengerCount = 0
	h := newHarness(t, raw)

	require.NoError(t, h.pipeline().Run(context.Background()))

	processed, err := csvfile.ReadValidatedFile(h.cfg.Paths.Processed, newYork)
	require.NoError(t, err)
	assert.Len(t, processed, 58)

	enriched, err := csvfile.ReadEnrichedFile(h.cfg.Paths.Enriched, newYork)
	require.NoError(t, err)
	require.Len(t, enriched, 58)
	for _, tr := range enriched {
		assert.NotEqual(t, "Unknown", tr.WeatherCondition, "trip %s", tr.ID)
	}

	require.Len(t, h.weather.calls, 1)
	assert.Equal(t, runDay, h.weather.calls[0].Start)
	assert.Equal(t, runDay, h.weather.calls[0].End)

	assert.Equal(t, 58, h.loader.rows)

	bundle, err := model.LoadBundle(h.cfg.Paths.Model)
	require.NoError(t, err)
	assert.Equal(t, model.FeatureColumns, bundle.Features)
	assert.FileExists(t, h.cfg.Paths.Metrics)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsRemoved.WithLabelValues(domain.StageDuration)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsRemoved.WithLabelValues(domain.StagePassengers)))
	assert.Equal(t, 58.0, testutil.ToFloat64(h.metrics.StageRows.WithLabelValues(pipeline.StageLoad)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StageRuns.WithLabelValues(pipeline.StageTrain, "success")))
	assert.Equal(t, bundle.Metrics.R2, testutil.ToFloat64(h.metrics.ModelR2))
	assert.Equal(t, float64(time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC).Unix()), testutil.ToFloat64(h.metrics.LastSuccess))
	assert.Zero(t, testutil.ToFloat64(h.metrics.PipelineRunning))
}

func TestPipeline_Process_ThreeTripScenario(t *testing.T) {
	a := rawTrip(0)
	a.ID, a.TripDuration = "A", 45
	b := rawTrip(1)
	b.ID, b.TripDuration = "B", 600
	c := rawTrip(2)
	c.ID, c.TripDuration, c.PickupLatitude = "C", 600, 51.5
	h := newHarness(t, []domain.RawTrip{a, b, c})

	kept, err := h.pipeline().RunStage(context.Background(), pipeline.StageProcess)
	require.NoError(t, err)
	assert.Equal(t, 1.0, kept)

	processed, err := csvfile.ReadValidatedFile(h.cfg.Paths.Processed, newYork)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, "B", processed[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsRemoved.WithLabelValues(domain.StageDuration)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsRemoved.WithLabelValues(domain.StageBounds)))
}

func TestPipeline_Run_StopsWhenFiltersRemoveEverything(t *testing.T) {
	raw := manyTrips(3)
	for i := range raw {
		raw[i].PassengerCount = 0
	}
	h := newHarness(t, raw)

	err := h.pipeline().Run(context.Background())
	require.ErrorIs(t, err, domain.ErrDataQualityExhausted)
	assert.Contains(t, err.Error(), "stage process")
	assert.Empty(t, h.weather.calls)
	assert.NoFileExists(t, h.cfg.Paths.Processed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StageRuns.WithLabelValues(pipeline.StageProcess, "error")))
	assert.Zero(t, testutil.ToFloat64(h.metrics.LastSuccess))
}

func TestPipeline_Run_WeatherFailureIsFatal(t *testing.T) {
	h := newHarness(t, manyTrips(10))
	h.weather.err = fmt.Errorf("%w: status 502", domain.ErrWeatherFetch)

	err := h.pipeline().Run(context.Background())
	require.ErrorIs(t, err, domain.ErrWeatherFetch)
	assert.NoFileExists(t, h.cfg.Paths.Enriched)
	assert.Zero(t, h.loader.rows)
}

func TestPipeline_Enrich_EmptyWeatherBackFills(t *testing.T) {
	h := newHarness(t, manyTrips(10))
	h.weather.obs = nil
	p := h.pipeline()

	_, err := p.RunStage(context.Background(), pipeline.StageProcess)
	require.NoError(t, err)
	n, err := p.RunStage(context.Background(), pipeline.StageEnrich)
	require.NoError(t, err)
	assert.Equal(t, 10.0, n)

	enriched, err := csvfile.ReadEnrichedFile(h.cfg.Paths.Enriched, newYork)
	require.NoError(t, err)
	for _, tr := range enriched {
		assert.Equal(t, "Unknown", tr.WeatherCondition)
		assert.Zero(t, tr.TemperatureC)
		assert.Equal(t, "Freezing", tr.TempCategory)
	}
	assert.Equal(t, 10.0, testutil.ToFloat64(h.metrics.WeatherUnmatched))
}

func TestPipeline_Enrich_EmptyProcessedSkipsFetch(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, csvfile.WriteValidatedFile(h.cfg.Paths.Processed, nil))

	n, err := h.pipeline().RunStage(context.Background(), pipeline.StageEnrich)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.weather.calls)
	assert.FileExists(t, h.cfg.Paths.Enriched)
}

func TestPipeline_Train_FailsOnTooFewTrips(t *testing.T) {
	h := newHarness(t, manyTrips(1))
	p := h.pipeline()
	for _, stage := range []string{pipeline.StageProcess, pipeline.StageEnrich} {
		_, err := p.RunStage(context.Background(), stage)
		require.NoError(t, err)
	}

	_, err := p.RunStage(context.Background(), pipeline.StageTrain)
	require.ErrorIs(t, err, domain.ErrModelFit)
	assert.NoFileExists(t, h.cfg.Paths.Model)
}

func TestPipeline_Load_PropagatesPartialLoad(t *testing.T) {
	h := newHarness(t, manyTrips(5))
	h.loader.err = fmt.Errorf("%w: chunk 2", domain.ErrPartialLoad)
	p := h.pipeline()
	for _, stage := range []string{pipeline.StageProcess, pipeline.StageEnrich} {
		_, err := p.RunStage(context.Background(), stage)
		require.NoError(t, err)
	}

	_, err := p.RunStage(context.Background(), pipeline.StageLoad)
	require.ErrorIs(t, err, domain.ErrPartialLoad)
}

func TestPipeline_Stages(t *testing.T) {
	h := newHarness(t, nil)
	names := func(p *pipeline.Pipeline) []string {
		var out []string
		for _, s := range p.Stages() {
			out = append(out, s.Name)
		}
		return out
	}
	assert.Equal(t, []string{"process", "enrich", "train", "load"}, names(h.pipeline()))

	h.deps.Publisher = &mockPublisher{}
	assert.Equal(t, []string{"process", "enrich", "train", "load", "publish"}, names(h.pipeline()))
}

func TestPipeline_Run_Publishes(t *testing.T) {
	h := newHarness(t, manyTrips(12))
	pub := &mockPublisher{}
	h.deps.Publisher = pub

	require.NoError(t, h.pipeline().Run(context.Background()))
	assert.Len(t, pub.ids, 12)
	assert.NotEmpty(t, pub.runID)
}

func TestPipeline_RunStage_Unknown(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.pipeline().RunStage(context.Background(), "deploy")
	require.ErrorIs(t, err, domain.ErrUnknownStage)

	_, err = h.pipeline().RunStage(context.Background(), pipeline.StagePublish)
	require.ErrorIs(t, err, domain.ErrUnknownStage)
}

func TestPipeline_RunStage_RejectsConcurrentRuns(t *testing.T) {
	h := newHarness(t, manyTrips(5))
	p := h.pipeline()
	_, err := p.RunStage(context.Background(), pipeline.StageProcess)
	require.NoError(t, err)

	h.weather.block = make(chan struct{})
	h.weather.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := p.RunStage(context.Background(), pipeline.StageEnrich)
		done <- err
	}()
	<-h.weather.started

	_, err = p.RunStage(context.Background(), pipeline.StageLoad)
	require.ErrorIs(t, err, domain.ErrStageRunning)
	require.ErrorIs(t, p.Run(context.Background()), domain.ErrStageRunning)

	close(h.weather.block)
	require.NoError(t, <-done)
}

func TestPipeline_CheckReadiness(t *testing.T) {
	h := newHarness(t, manyTrips(1))
	require.NoError(t, h.pipeline().CheckReadiness(context.Background()))

	h.deps.Warehouse = mockPinger{err: errors.New("connection refused")}
	err := h.pipeline().CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse")

	h.deps.Warehouse = mockPinger{}
	require.NoError(t, os.Remove(h.cfg.Paths.Raw))
	err = h.pipeline().CheckReadiness(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
}
