package model

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// TestFraction is the share of sampled rows held out for evaluation.
const TestFraction = 0.2

// NewRand returns the seeded generator used for sampling and the train/test split.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Trainer fits and evaluates the trip duration model.
type Trainer struct {
	cfg    config.TrainConfig
	params Params
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewTrainer builds a trainer using the production hyperparameters with the
// tree count, seed and worker count taken from cfg.
func NewTrainer(cfg config.TrainConfig, clock clockwork.Clock, logger *slog.Logger) *Trainer {
	p := DefaultParams()
	p.Trees = cfg.Trees
	p.Seed = cfg.Seed
	p.Workers = cfg.Workers
	return &Trainer{cfg: cfg, params: p, clock: clock, logger: logger}
}

// Train samples at most cfg.SampleCap trips with rng, fits a forest on the
// features present in columns (nil means all), evaluates it on a held-out
// split and returns the resulting bundle. The same rng state and input
// always produce the same bundle apart from TrainedAt.
func (t *Trainer) Train(ctx context.Context, trips []domain.EnrichedTrip, columns []string, runID string, rng *rand.Rand) (*Bundle, error) {
	if len(trips) == 0 {
		return nil, fmt.Errorf("%w: no enriched trips", domain.ErrModelFit)
	}
	features := SelectFeatures(columns)
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: none of the model features are present", domain.ErrModelFit)
	}

	if len(trips) > t.cfg.SampleCap {
		idx := SampleIndices(len(trips), t.cfg.SampleCap, rng)
		sampled := make([]domain.EnrichedTrip, len(idx))
		for k, i := range idx {
			sampled[k] = trips[i]
		}
		t.logger.Info("sampled trips for training", "sampled", len(sampled), "available", len(trips))
		trips = sampled
	}

	frame := NewFrame(trips, features)
	fills := frame.FillMissing()

	trainIdx, testIdx, err := Split(len(frame.Y), TestFraction, rng)
	if err != nil {
		return nil, err
	}
	train, test := frame.Rows(trainIdx), frame.Rows(testIdx)
	t.logger.Info("training model",
		"features", len(features),
		"train_samples", len(train.Y),
		"test_samples", len(test.Y),
		"trees", t.params.Trees,
		"workers", t.params.Workers,
	)

	forest, err := Fit(ctx, train.X, train.Y, t.params)
	if err != nil {
		return nil, err
	}

	metrics := Evaluate(test.Y, forest.PredictAll(test.X))
	importances := RankImportances(features, forest.Importances)

	t.logger.Info("model evaluated",
		"mae_min", metrics.MAEMinutes,
		"rmse_min", metrics.RMSEMinutes,
		"r2", metrics.R2,
	)
	for rank, imp := range importances[:min(TopFeatures, len(importances))] {
		t.logger.Info("feature importance", "rank", rank+1, "feature", imp.Feature, "importance", imp.Importance)
	}

	return &Bundle{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		TrainedAt:     t.clock.Now(),
		Features:      features,
		FillValues:    fills,
		TrainSamples:  len(train.Y),
		TestSamples:   len(test.Y),
		Metrics:       metrics,
		Importances:   importances,
		Forest:        forest,
	}, nil
}
