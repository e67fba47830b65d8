package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "climate"

// Metrics holds the Prometheus collectors for a single climate run.
// Every Metrics owns its registry, so a run (or a test) never collides with
// another one on the default registry.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP client metrics.
	Requests        *prometheus.CounterVec   // labels: method, outcome={2xx,3xx,4xx,5xx,error,circuit_open}
	Retries         *prometheus.CounterVec   // labels: method
	RequestDuration *prometheus.HistogramVec // labels: method
	BreakerOpen     prometheus.Gauge

	// Pipeline metrics.
	ReportsFetched   prometheus.Counter
	ReportsSelected  prometheus.Gauge
	ReportsUpdated   prometheus.Gauge
	Updates          *prometheus.CounterVec // labels: outcome={success,error}
	LocationFailures prometheus.Counter
	RunDuration      prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics creates all collectors and registers them with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP request attempts against the report service by method and outcome.",
		}, []string{"method", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_retries_total",
			Help:      "HTTP request retries by method.",
		}, []string{"method"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of a single HTTP attempt in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_breaker_open",
			Help:      "1 while the circuit breaker is open, 0 otherwise.",
		}),
		ReportsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_fetched_total",
			Help:      "Weather reports retrieved from the service.",
		}),
		ReportsSelected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reports_selected",
			Help:      "Reports eligible for a temperature update in the last run.",
		}),
		ReportsUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reports_updated",
			Help:      "Reports carrying a modification after the last run's re-fetch.",
		}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Report updates issued by outcome.",
		}, []string{"outcome"}),
		LocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_failures_total",
			Help:      "Locations whose reports could not be retrieved.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	m.Registry.MustRegister(
		m.Requests,
		m.Retries,
		m.RequestDuration,
		m.BreakerOpen,
		m.ReportsFetched,
		m.ReportsSelected,
		m.ReportsUpdated,
		m.Updates,
		m.LocationFailures,
		m.RunDuration,
		m.LastRunTimestamp,
	)

	return m
}

// WriteTextfile dumps the registry in the text exposition format, suitable for
// the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
