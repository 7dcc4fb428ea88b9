package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "drought_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the drought engine.
type Metrics struct {
	RunRequestsConsumed prometheus.Counter
	RecordsProduced     prometheus.Counter
	RunFailures         *prometheus.CounterVec // labels: reason={no_onset,job_failed,job_timeout,incomplete_merge,other}
	PipelineRunning     prometheus.Gauge
	RunDuration         prometheus.Histogram

	// Season computation.
	ZonesProcessed       prometheus.Counter
	IndicatorUnavailable *prometheus.CounterVec // labels: indicator={rainfall_deviation_7,rainfall_deviation_28,spi,dryspell,vci,mai,percent_cropped}

	// Export jobs.
	ExportJobs    *prometheus.CounterVec // labels: outcome={submitted,completed,failed,timeout,skipped}
	ExportJobWait prometheus.Histogram

	// Compute backend reductions.
	ReduceRequests *prometheus.CounterVec // labels: outcome={success,nodata,error}
	ReduceDuration prometheus.Histogram
	ReduceCache    *prometheus.CounterVec // labels: result={hit,miss}
}

func newMetrics() *Metrics {
	return &Metrics{
		RunRequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_requests_consumed_total",
			Help:      "Total run requests read from the source topic.",
		}),
		RecordsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_produced_total",
			Help:      "Total longitudinal zone records written to the sink topic.",
		}),
		RunFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Failed runs by reason.",
		}, []string{"reason"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete multi-year run.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		ZonesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zones_processed_total",
			Help:      "Zone seasons classified and aggregated.",
		}),
		IndicatorUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indicator_unavailable_total",
			Help:      "Weekly indicators that could not be computed, by indicator.",
		}, []string{"indicator"}),
		ExportJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_jobs_total",
			Help:      "Asset export jobs by outcome.",
		}, []string{"outcome"}),
		ExportJobWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_job_wait_seconds",
			Help:      "Time from submission until an export job resolved.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 3600, 7200},
		}),
		ReduceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reduce_requests_total",
			Help:      "Zonal reduction requests sent to the compute backend by outcome.",
		}, []string{"outcome"}),
		ReduceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reduce_duration_seconds",
			Help:      "Compute backend reduction request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ReduceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reduce_cache_total",
			Help:      "Reduction cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunRequestsConsumed,
		m.RecordsProduced,
		m.RunFailures,
		m.PipelineRunning,
		m.RunDuration,
		m.ZonesProcessed,
		m.IndicatorUnavailable,
		m.ExportJobs,
		m.ExportJobWait,
		m.ReduceRequests,
		m.ReduceDuration,
		m.ReduceCache,
	}
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

// CounterValue reads the current value of c. Used by tests across packages.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
