package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the collocation service.
type Metrics struct {
	ObservationsConsidered prometheus.Counter
	Matches                prometheus.Counter
	NoMatches              *prometheus.CounterVec // labels: reason={no_candidates,out_of_range,invalid_value,invalid_distance}
	CollocationDuration    prometheus.Histogram

	// Grid cache metrics.
	GridCache          *prometheus.CounterVec // labels: result={hit,miss}
	GridCacheEvictions prometheus.Counter
	GridCacheEntries   prometheus.Gauge

	// Grid file resolution metrics.
	ResolverAttempts prometheus.Counter
	Resolutions      *prometheus.CounterVec // labels: outcome={found,unavailable,error}

	// Pipeline metrics.
	DatesProcessed   prometheus.Counter
	RunFailures      *prometheus.CounterVec // labels: step
	RecordsPublished prometheus.Counter
	PublishErrors    prometheus.Counter
	PipelineRunning  prometheus.Gauge
}

// NewMetrics creates and registers all collocation metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ObservationsConsidered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "observations_considered_total",
			Help:      "Observations inside the time window of a collocation call.",
		}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "matches_total",
			Help:      "Observations paired with a model grid cell.",
		}),
		NoMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "no_matches_total",
			Help:      "Observations dropped without a match, by reason.",
		}, []string{"reason"}),
		CollocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wave_colloc",
			Name:      "collocation_duration_seconds",
			Help:      "Duration of a single collocation call.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		GridCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "grid_cache_total",
			Help:      "Grid axes cache lookups by result.",
		}, []string{"result"}),
		GridCacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "grid_cache_evictions_total",
			Help:      "Grid axes evicted from the cache.",
		}),
		GridCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wave_colloc",
			Name:      "grid_cache_entries",
			Help:      "Grid axes currently held in the cache.",
		}),
		ResolverAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "grid_file_attempts_total",
			Help:      "Grid file accessibility probes.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "grid_file_resolutions_total",
			Help:      "Grid file resolutions by outcome.",
		}, []string{"outcome"}),
		DatesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "dates_processed_total",
			Help:      "Valid dates collocated successfully.",
		}),
		RunFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "run_failures_total",
			Help:      "Valid dates that could not be collocated, by failing step.",
		}, []string{"step"}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "records_published_total",
			Help:      "Match records written to the sink.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_colloc",
			Name:      "publish_errors_total",
			Help:      "Failed attempts to write match records to the sink.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wave_colloc",
			Name:      "pipeline_running",
			Help:      "1 while a collocation run is active, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.ObservationsConsidered,
		m.Matches,
		m.NoMatches,
		m.CollocationDuration,
		m.GridCache,
		m.GridCacheEvictions,
		m.GridCacheEntries,
		m.ResolverAttempts,
		m.Resolutions,
		m.DatesProcessed,
		m.RunFailures,
		m.RecordsPublished,
		m.PublishErrors,
		m.PipelineRunning,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ObservationsConsidered: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "observations_considered_total"}),
		Matches:                prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "matches_total"}),
		NoMatches:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "no_matches_total"}, []string{"reason"}),
		CollocationDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "wave_colloc", Name: "collocation_duration_seconds"}),
		GridCache:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "grid_cache_total"}, []string{"result"}),
		GridCacheEvictions:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "grid_cache_evictions_total"}),
		GridCacheEntries:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "wave_colloc", Name: "grid_cache_entries"}),
		ResolverAttempts:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "grid_file_attempts_total"}),
		Resolutions:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "grid_file_resolutions_total"}, []string{"outcome"}),
		DatesProcessed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "dates_processed_total"}),
		RunFailures:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "run_failures_total"}, []string{"step"}),
		RecordsPublished:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "records_published_total"}),
		PublishErrors:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_colloc", Name: "publish_errors_total"}),
		PipelineRunning:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "wave_colloc", Name: "pipeline_running"}),
	}
}
