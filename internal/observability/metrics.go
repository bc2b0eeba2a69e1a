package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taxi_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	LastSuccess     prometheus.Gauge // unix seconds of the last successful full run

	// Stage metrics.
	StageRuns     *prometheus.CounterVec   // labels: stage, outcome={success,error}
	StageDuration *prometheus.HistogramVec // labels: stage
	StageRows     *prometheus.GaugeVec     // labels: stage; rows produced by the last run

	// Validation metrics.
	RecordsRemoved *prometheus.CounterVec // labels: filter={duration,bounds,passengers,speed}

	// Weather metrics.
	WeatherRequests    *prometheus.CounterVec // labels: outcome={success,error}
	WeatherCache       *prometheus.CounterVec // labels: layer={memory,redis}, result={hit,miss}
	WeatherAPIDuration prometheus.Histogram
	WeatherUnmatched   prometheus.Gauge

	// Model metrics.
	ModelR2         prometheus.Gauge
	ModelMAESeconds prometheus.Gauge

	// Load and publish metrics.
	RowsLoaded       prometheus.Counter
	ChunksLoaded     prometheus.Counter
	MessagesProduced prometheus.Counter
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 while a stage is executing, 0 otherwise."),
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      help("Unix time of the last successful full pipeline run."),
		}),
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      help("Stage executions by stage and outcome."),
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      help("Wall-clock duration of a stage execution."),
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"}),
		StageRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_rows",
			Help:      help("Rows produced by the most recent execution of a stage."),
		}, []string{"stage"}),
		RecordsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_removed_total",
			Help:      help("Raw trips rejected by each quality filter."),
		}, []string{"filter"}),
		WeatherRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_requests_total",
			Help:      help("Weather archive requests by outcome."),
		}, []string{"outcome"}),
		WeatherCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_total",
			Help:      help("Weather cache lookups by layer and result."),
		}, []string{"layer", "result"}),
		WeatherAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weather_api_duration_seconds",
			Help:      help("Weather archive request duration in seconds."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		WeatherUnmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weather_unmatched_trips",
			Help:      help("Trips with no weather hour in the last enrichment."),
		}),
		ModelR2: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_r2",
			Help:      help("Holdout R² of the last trained model."),
		}),
		ModelMAESeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_mae_seconds",
			Help:      help("Holdout mean absolute error of the last trained model."),
		}),
		RowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_rows_loaded_total",
			Help:      help("Rows written to the warehouse table."),
		}),
		ChunksLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_chunks_loaded_total",
			Help:      help("Chunks written to the warehouse table."),
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      help("Enriched trips published to the sink topic."),
		}),
	}
}

// Collectors returns every metric for registration or pushing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning,
		m.LastSuccess,
		m.StageRuns,
		m.StageDuration,
		m.StageRows,
		m.RecordsRemoved,
		m.WeatherRequests,
		m.WeatherCache,
		m.WeatherAPIDuration,
		m.WeatherUnmatched,
		m.ModelR2,
		m.ModelMAESeconds,
		m.RowsLoaded,
		m.ChunksLoaded,
		m.MessagesProduced,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.Collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
