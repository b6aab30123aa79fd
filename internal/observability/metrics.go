package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "telemetry_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	ReadingsProcessed *prometheus.CounterVec // labels: outcome={valid,invalid,failed}
	OutliersFlagged   *prometheus.CounterVec // labels: field={temperature,humidity}
	ETLDuration       prometheus.Histogram
	FallbackSaves     prometheus.Counter

	IngestRequests *prometheus.CounterVec // labels: outcome={accepted,accepted_invalid,fallback,rejected}

	// Feed consumer metrics.
	PollCycles         *prometheus.CounterVec // labels: outcome={success,error}
	FeedEntriesFetched prometheus.Counter
	FeedEntriesNew     prometheus.Counter
	FeedGapSuspected   prometheus.Counter
	PollerRunning      prometheus.Gauge
	ConsumerCursor     prometheus.Gauge
	FeedAPIDuration    *prometheus.HistogramVec // labels: method={fetch,update}

	// Analytics cache and sink metrics.
	AnalyticsCache   *prometheus.CounterVec // labels: result={hit,miss,error}
	MessagesProduced prometheus.Counter
	ProduceErrors    prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_processed_total",
			Help:      "Readings run through the ETL pipeline by outcome.",
		}, []string{"outcome"}),
		OutliersFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outliers_flagged_total",
			Help:      "Outlier flags set to true, per field.",
		}, []string{"field"}),
		ETLDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "etl_duration_seconds",
			Help:      "Duration of a complete extract-transform-load run for one reading.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		FallbackSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_saves_total",
			Help:      "Readings stored through the minimal fallback path.",
		}),
		IngestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Device submissions by outcome.",
		}, []string{"outcome"}),
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Feed poll cycles by outcome.",
		}, []string{"outcome"}),
		FeedEntriesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_entries_fetched_total",
			Help:      "Feed entries returned by the external feed.",
		}),
		FeedEntriesNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_entries_new_total",
			Help:      "Feed entries newer than the consumer cursor.",
		}),
		FeedGapSuspected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_gap_suspected_total",
			Help:      "Poll cycles where every fetched entry was unseen and the page was full.",
		}),
		PollerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poller_running",
			Help:      "1 when the background feed poller is active, 0 otherwise.",
		}),
		ConsumerCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_cursor",
			Help:      "Last feed entry id persisted by the consumer.",
		}),
		FeedAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_api_duration_seconds",
			Help:      "External feed API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		AnalyticsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_cache_total",
			Help:      "Analytics cache lookups by result.",
		}, []string{"result"}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Processed readings written to the sink topic.",
		}),
		ProduceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "produce_errors_total",
			Help:      "Failed writes to the sink topic.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsProcessed,
		m.OutliersFlagged,
		m.ETLDuration,
		m.FallbackSaves,
		m.IngestRequests,
		m.PollCycles,
		m.FeedEntriesFetched,
		m.FeedEntriesNew,
		m.FeedGapSuspected,
		m.PollerRunning,
		m.ConsumerCursor,
		m.FeedAPIDuration,
		m.AnalyticsCache,
		m.MessagesProduced,
		m.ProduceErrors,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
