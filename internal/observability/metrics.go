package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	apiRequestsTotal     *prometheus.CounterVec
	apiLatencySeconds    *prometheus.HistogramVec
	apiErrorsTotal       *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	queueProcessedTotal  *prometheus.CounterVec
	eventsPublishedTotal *prometheus.CounterVec
	streamClientsActive  prometheus.Gauge
	validationVerdicts   *prometheus.CounterVec
	proctoringFlagsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labguard_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labguard_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labguard_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labguard_validation_queue_depth",
			Help: "Number of submissions waiting for validation.",
		})

		queueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labguard_validation_queue_processed_total",
			Help: "Validation queue items processed, by outcome.",
		}, []string{"outcome"})

		eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labguard_events_published_total",
			Help: "Integrity events published, by channel kind and event type.",
		}, []string{"channel", "type"})

		streamClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labguard_stream_clients_active",
			Help: "Currently connected live-stream observers.",
		})

		validationVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labguard_validation_verdicts_total",
			Help: "Final validation statuses written, by status and source.",
		}, []string{"status", "source"})

		proctoringFlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labguard_proctoring_flags_total",
			Help: "Proctoring flags raised, by type and severity.",
		}, []string{"type", "severity"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			queueDepth, queueProcessedTotal, eventsPublishedTotal,
			streamClientsActive, validationVerdicts, proctoringFlagsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// QueueDepth exposes the validation queue depth gauge.
func QueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return queueDepth
}

// QueueProcessed exposes the processed-items counter.
func QueueProcessed() *prometheus.CounterVec {
	RegisterMetrics()
	return queueProcessedTotal
}

// EventsPublished exposes the published-events counter.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublishedTotal
}

// StreamClientsActive exposes the live-stream observer gauge.
func StreamClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return streamClientsActive
}

// ValidationVerdicts exposes the verdict counter.
func ValidationVerdicts() *prometheus.CounterVec {
	RegisterMetrics()
	return validationVerdicts
}

// ProctoringFlags exposes the proctoring flag counter.
func ProctoringFlags() *prometheus.CounterVec {
	RegisterMetrics()
	return proctoringFlagsTotal
}
