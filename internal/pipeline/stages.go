package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/model"
)

// process validates the raw trips and writes the processed dataset. It
// returns the number of trips kept.
func (p *Pipeline) process(ctx context.Context) (float64, error) {
	logger := p.deps.Logger.With("run_id", runID(ctx))

	raw, err := csvfile.ReadRawFile(p.cfg.Paths.Raw, p.cfg.Location)
	if err != nil {
		return 0, err
	}
	logger.Info("raw trips loaded", "path", p.cfg.Paths.Raw, "rows", len(raw))

	trips, report := domain.ValidateTrips(raw)
	for _, s := range report.Stages {
		p.deps.Metrics.RecordsRemoved.WithLabelValues(s.Stage).Add(float64(s.Removed))
		logger.Info("filter applied", "filter", s.Stage, "removed", s.Removed, "remaining", s.Remaining)
	}
	logger.Info("validation complete",
		"input", report.Input,
		"kept", report.Kept,
		"removed", report.Removed(),
		"removed_pct", report.RemovedPct(),
	)
	if err := report.Err(); err != nil {
		return 0, err
	}

	if err := csvfile.WriteValidatedFile(p.cfg.Paths.Processed, trips); err != nil {
		return 0, err
	}
	logger.Info("processed trips written", "path", p.cfg.Paths.Processed)
	return float64(len(trips)), nil
}

// enrich joins the processed trips to hourly weather and writes the enriched
// dataset. It returns the number of enriched trips.
func (p *Pipeline) enrich(ctx context.Context) (float64, error) {
	logger := p.deps.Logger.With("run_id", runID(ctx))

	trips, err := csvfile.ReadValidatedFile(p.cfg.Paths.Processed, p.cfg.Location)
	if err != nil {
		return 0, err
	}

	var observations []domain.HourlyWeatherObservation
	if r, ok := domain.DateRangeOf(trips); ok {
		logger.Info("fetching weather",
			"start", r.Start.Format(domain.DateLayout),
			"end", r.End.Format(domain.DateLayout),
		)
		observations, err = p.deps.Weather.FetchHourly(ctx, r)
		if err != nil {
			return 0, err
		}
		logger.Info("weather fetched", "hours", len(observations))
	} else {
		logger.Warn("no processed trips, skipping weather fetch")
	}

	enriched, stats := domain.EnrichTrips(trips, observations)
	p.deps.Metrics.WeatherUnmatched.Set(float64(stats.Unmatched()))
	if stats.DuplicateHours > 0 {
		logger.Warn("duplicate weather hours ignored", "count", stats.DuplicateHours)
	}
	if stats.Unmatched() > 0 {
		logger.Warn("trips without weather back-filled with medians",
			"unmatched", stats.Unmatched(),
			"median_temperature_c", stats.Medians.TemperatureC,
		)
	}
	logger.Info("enrichment complete",
		"trips", stats.Trips,
		"matched", stats.Matched,
		"rainy_trips", stats.RainyTrips,
		"rainy_pct", stats.RainyPct(),
		"min_temp_c", stats.MinTempC,
		"max_temp_c", stats.MaxTempC,
	)

	if err := csvfile.WriteEnrichedFile(p.cfg.Paths.Enriched, enriched); err != nil {
		return 0, err
	}
	logger.Info("enriched trips written", "path", p.cfg.Paths.Enriched)
	return float64(len(enriched)), nil
}

// train fits the duration model, writes the bundle and the metrics summary,
// and returns the holdout R².
func (p *Pipeline) train(ctx context.Context) (float64, error) {
	logger := p.deps.Logger.With("run_id", runID(ctx))

	reader, err := csvfile.OpenEnriched(p.cfg.Paths.Enriched, p.cfg.Location)
	if err != nil {
		return 0, err
	}
	defer reader.Close()
	columns := reader.Columns()
	trips, err := reader.ReadAll()
	if err != nil {
		return 0, err
	}
	logger.Info("enriched trips loaded", "rows", len(trips))

	bundle, err := p.deps.Trainer.Train(ctx, trips, columns, runID(ctx), model.NewRand(p.cfg.Train.Seed))
	if err != nil {
		return 0, err
	}

	if err := bundle.Save(p.cfg.Paths.Model); err != nil {
		return 0, err
	}
	if err := model.WriteSummaryFile(p.cfg.Paths.Metrics, bundle); err != nil {
		return 0, err
	}
	p.deps.Metrics.ModelR2.Set(bundle.Metrics.R2)
	p.deps.Metrics.ModelMAESeconds.Set(bundle.Metrics.MAESeconds)
	logger.Info("model saved", "model_path", p.cfg.Paths.Model, "metrics_path", p.cfg.Paths.Metrics)
	return bundle.Metrics.R2, nil
}

// load replace-loads the enriched dataset into the warehouse and returns the
// persisted row count.
func (p *Pipeline) load(ctx context.Context) (float64, error) {
	reader, err := csvfile.OpenEnriched(p.cfg.Paths.Enriched, p.cfg.Location)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	n, err := p.deps.Loader.Load(ctx, reader)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

// publish writes the enriched dataset to the configured topic and returns the
// number of messages produced.
func (p *Pipeline) publish(ctx context.Context) (float64, error) {
	if p.deps.Publisher == nil {
		return 0, errPublishDisabled
	}
	reader, err := csvfile.OpenEnriched(p.cfg.Paths.Enriched, p.cfg.Location)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	n, err := p.deps.Publisher.Publish(ctx, reader, runID(ctx), p.deps.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("publish enriched trips: %w", err)
	}
	p.deps.Logger.Info("enriched trips published", "run_id", runID(ctx), "messages", n)
	return float64(n), nil
}
