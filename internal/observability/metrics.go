package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	errors         *prometheus.CounterVec

	webhookEvents *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	jobLatency    prometheus.Histogram
	escalations   *prometheus.CounterVec
	closures      prometheus.Counter
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"route", "method", "code"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_webhook_events_total",
			Help: "Inbound channel events by outcome (enqueued, duplicate, ignored).",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_jobs_total",
			Help: "Intake jobs by outcome (processed, retried, dead_lettered, skipped).",
		}, []string{"outcome"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_job_duration_seconds",
			Help:    "Time spent processing one intake job.",
			Buckets: prometheus.DefBuckets,
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_sla_escalations_total",
			Help: "SLA escalations fired by deadline family and stage.",
		}, []string{"family", "stage"}),
		closures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_inactivity_closures_total",
			Help: "Tickets closed for requester inactivity.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestLatency,
		m.errors,
		m.webhookEvents,
		m.jobs,
		m.jobLatency,
		m.escalations,
		m.closures,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordWebhookEvent counts an inbound event outcome.
func (m *Metrics) RecordWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

// RecordJob counts a job outcome and, when non-zero, its duration.
func (m *Metrics) RecordJob(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.jobLatency.Observe(duration.Seconds())
	}
}

// RecordEscalation counts a fired escalation stage.
func (m *Metrics) RecordEscalation(family string, stage int) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(family, strconv.Itoa(stage)).Inc()
}

// RecordInactivityClosure counts a ticket closed by the inactivity sweep.
func (m *Metrics) RecordInactivityClosure() {
	if m == nil {
		return
	}
	m.closures.Inc()
}
