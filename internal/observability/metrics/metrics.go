// Package metrics exposes process counters and gauges via the Prometheus
// client library, scoped to this service's domain: HTTP traffic, credit
// ledger activity, background job throughput, and external client health.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder bundles every Prometheus collector the process registers. A
// Recorder is safe for concurrent use: every field is a prometheus.Collector,
// which is inherently goroutine-safe.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	creditEvents        *prometheus.CounterVec
	creditBalance       *prometheus.GaugeVec
	insufficientCredits *prometheus.CounterVec

	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsActive    *prometheus.GaugeVec
	jobDuration   *prometheus.HistogramVec

	externalCalls       *prometheus.CounterVec
	externalFallbacks   *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec

	feedPipelineStage *prometheus.CounterVec
	outcomeIngested   *prometheus.CounterVec
}

var defaultRecorder = New()

// New constructs a Recorder registered against a fresh prometheus.Registry,
// so tests and multiple server instances never collide on global collector
// registration.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_http_requests_total",
			Help: "Total HTTP requests processed, by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulsebench_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		creditEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_credit_ledger_entries_total",
			Help: "Credit ledger entries appended, by entry type.",
		}, []string{"entry_type"}),
		creditBalance: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsebench_credit_balance",
			Help: "Last observed credit balance for a user.",
		}, []string{"user_id"}),
		insufficientCredits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_insufficient_credits_total",
			Help: "Requests rejected for insufficient credits, by action.",
		}, []string{"action"}),
		jobsStarted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_jobs_started_total",
			Help: "Background jobs started, by job kind.",
		}, []string{"kind"}),
		jobsCompleted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_jobs_completed_total",
			Help: "Background jobs completed successfully, by job kind.",
		}, []string{"kind"}),
		jobsFailed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_jobs_failed_total",
			Help: "Background jobs that ended in failure, by job kind and reason.",
		}, []string{"kind", "reason"}),
		jobsActive: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsebench_jobs_active",
			Help: "Currently in-flight background jobs, by job kind.",
		}, []string{"kind"}),
		jobDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulsebench_job_duration_seconds",
			Help:    "Background job duration in seconds, by job kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		externalCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_external_calls_total",
			Help: "Calls to external service clients, by client and outcome.",
		}, []string{"client", "outcome"}),
		externalFallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_external_fallbacks_total",
			Help: "Deterministic fallback responses served in place of a live external call, by client.",
		}, []string{"client"}),
		circuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsebench_circuit_breaker_state",
			Help: "Circuit breaker state by client (0=closed,1=half-open,2=open).",
		}, []string{"client"}),
		feedPipelineStage: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_feed_pipeline_stage_total",
			Help: "Feed-loop pipeline stage transitions, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		outcomeIngested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pulsebench_outcome_metrics_ingested_total",
			Help: "Outcome metrics ingested, by platform.",
		}, []string{"platform"}),
	}
	return r
}

// Default returns the process-wide Recorder used by packages that do not
// carry their own instance through dependency injection.
func Default() *Recorder { return defaultRecorder }

// Handler exposes the Recorder's registry as a standard Prometheus scrape
// endpoint.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (r *Recorder) ObserveRequest(method, route string, status int, seconds float64) {
	r.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

// ObserveCreditEntry records an appended ledger entry and the user's balance
// immediately after it.
func (r *Recorder) ObserveCreditEntry(entryType, userID string, balanceAfter int) {
	r.creditEvents.WithLabelValues(entryType).Inc()
	r.creditBalance.WithLabelValues(userID).Set(float64(balanceAfter))
}

// ObserveInsufficientCredits records a request rejected under 402 for lack
// of balance.
func (r *Recorder) ObserveInsufficientCredits(action string) {
	r.insufficientCredits.WithLabelValues(action).Inc()
}

// JobStarted records the start of a background job of the given kind
// (media_download, transcript, audit, outcome_recalibrate, feed_auto_ingest).
func (r *Recorder) JobStarted(kind string) {
	r.jobsStarted.WithLabelValues(kind).Inc()
	r.jobsActive.WithLabelValues(kind).Inc()
}

// JobCompleted records the successful completion of a background job and its
// duration in seconds.
func (r *Recorder) JobCompleted(kind string, seconds float64) {
	r.jobsCompleted.WithLabelValues(kind).Inc()
	r.jobsActive.WithLabelValues(kind).Dec()
	r.jobDuration.WithLabelValues(kind).Observe(seconds)
}

// JobFailed records a failed background job with a short reason label.
func (r *Recorder) JobFailed(kind, reason string) {
	r.jobsFailed.WithLabelValues(kind, reason).Inc()
	r.jobsActive.WithLabelValues(kind).Dec()
}

// ObserveExternalCall records a call to an external client (llm, platform)
// and its outcome (ok, error, fallback, breaker_open).
func (r *Recorder) ObserveExternalCall(client, outcome string) {
	r.externalCalls.WithLabelValues(client, outcome).Inc()
	if outcome == "fallback" || outcome == "breaker_open" {
		r.externalFallbacks.WithLabelValues(client).Inc()
	}
}

// SetCircuitBreakerState publishes the numeric gobreaker state for a client.
func (r *Recorder) SetCircuitBreakerState(client string, state float64) {
	r.circuitBreakerState.WithLabelValues(client).Set(state)
}

// ObserveFeedPipelineStage records a feed-loop pipeline stage transition.
func (r *Recorder) ObserveFeedPipelineStage(stage, outcome string) {
	r.feedPipelineStage.WithLabelValues(stage, outcome).Inc()
}

// ObserveOutcomeIngested records an ingested outcome metric for a platform.
func (r *Recorder) ObserveOutcomeIngested(platform string) {
	r.outcomeIngested.WithLabelValues(platform).Inc()
}
