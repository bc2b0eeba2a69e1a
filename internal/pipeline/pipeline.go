package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/model"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Stage names, in run order.
const (
	StageProcess = "process"
	StageEnrich  = "enrich"
	StageTrain   = "train"
	StageLoad    = "load"
	StagePublish = "publish"
)

// Trainer fits the duration model on enriched trips.
type Trainer interface {
	Train(ctx context.Context, trips []domain.EnrichedTrip, columns []string, runID string, rng *rand.Rand) (*model.Bundle, error)
}

// Loader replace-loads enriched trips into the warehouse and returns the
// persisted row count.
type Loader interface {
	Load(ctx context.Context, src domain.TripSource) (int64, error)
}

// Publisher writes enriched trips to a message topic.
type Publisher interface {
	Publish(ctx context.Context, src domain.TripSource, runID string, publishedAt time.Time) (int, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators each stage uses. Publisher and Warehouse may be nil.
type Deps struct {
	Weather   domain.WeatherSource
	Trainer   Trainer
	Loader    Loader
	Publisher Publisher
	Warehouse Pinger
	Clock     clockwork.Clock
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// StageFunc runs one stage and returns its scalar result: a row count, or
// the holdout R² for training.
type StageFunc func(ctx context.Context) (float64, error)

// Stage is a named pipeline step.
type Stage struct {
	Name string
	Run  StageFunc
}

// Pipeline sequences the batch stages. Stages exchange data through the
// files in config.Paths, so any one of them can be rerun alone.
type Pipeline struct {
	cfg  *config.Config
	deps Deps

	// mu serialises stage execution; runs never overlap.
	mu sync.Mutex
}

// New creates a Pipeline from configuration and collaborators.
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{cfg: cfg, deps: deps}
}

// Stages returns the stage callables in run order. The publish stage is
// present only when a Publisher is configured.
func (p *Pipeline) Stages() []Stage {
	stages := []Stage{
		{Name: StageProcess, Run: p.process},
		{Name: StageEnrich, Run: p.enrich},
		{Name: StageTrain, Run: p.train},
		{Name: StageLoad, Run: p.load},
	}
	if p.deps.Publisher != nil {
		stages = append(stages, Stage{Name: StagePublish, Run: p.publish})
	}
	return stages
}

// RunStage runs the named stage alone. It fails with ErrStageRunning if
// another stage or a full run is in progress.
func (p *Pipeline) RunStage(ctx context.Context, name string) (float64, error) {
	for _, s := range p.Stages() {
		if s.Name != name {
			continue
		}
		if !p.mu.TryLock() {
			return 0, domain.ErrStageRunning
		}
		defer p.mu.Unlock()
		return p.runStage(withRunID(ctx), s)
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrUnknownStage, name)
}

// Run executes every stage in order, stopping at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.mu.TryLock() {
		return domain.ErrStageRunning
	}
	defer p.mu.Unlock()

	ctx = withRunID(ctx)
	start := p.deps.Clock.Now()
	p.deps.Logger.Info("pipeline started", "run_id", runID(ctx))

	for _, s := range p.Stages() {
		if _, err := p.runStage(ctx, s); err != nil {
			p.deps.Logger.Error("pipeline failed", "run_id", runID(ctx), "stage", s.Name, "error", err)
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
	}

	p.deps.Metrics.LastSuccess.Set(float64(p.deps.Clock.Now().Unix()))
	p.deps.Logger.Info("pipeline completed",
		"run_id", runID(ctx),
		"duration", p.deps.Clock.Since(start),
	)
	return nil
}

// CheckReadiness reports whether the raw input is present and the warehouse
// is reachable.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if _, err := os.Stat(p.cfg.Paths.Raw); err != nil {
		return fmt.Errorf("raw input: %w", err)
	}
	if p.deps.Warehouse != nil {
		if err := p.deps.Warehouse.Ping(ctx); err != nil {
			return fmt.Errorf("warehouse: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, s Stage) (float64, error) {
	logger := p.deps.Logger.With("run_id", runID(ctx), "stage", s.Name)
	logger.Info("stage started")

	p.deps.Metrics.PipelineRunning.Set(1)
	defer p.deps.Metrics.PipelineRunning.Set(0)

	start := p.deps.Clock.Now()
	result, err := s.Run(ctx)
	elapsed := p.deps.Clock.Since(start)
	p.deps.Metrics.StageDuration.WithLabelValues(s.Name).Observe(elapsed.Seconds())

	if err != nil {
		p.deps.Metrics.StageRuns.WithLabelValues(s.Name, "error").Inc()
		logger.Error("stage failed", "error", err, "duration", elapsed)
		return 0, err
	}
	p.deps.Metrics.StageRuns.WithLabelValues(s.Name, "success").Inc()
	p.deps.Metrics.StageRows.WithLabelValues(s.Name).Set(result)
	logger.Info("stage completed", "result", result, "duration", elapsed)
	return result, nil
}

type runIDKey struct{}

// withRunID stamps ctx with a fresh run identifier unless it already has one.
func withRunID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(runIDKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, uuid.NewString())
}

func runID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// errPublishDisabled is returned if publish is invoked without a Publisher.
var errPublishDisabled = errors.New("publishing is disabled")
