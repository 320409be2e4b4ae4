package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Scan pipeline metrics
	scansTotal        *prometheus.CounterVec
	scanDuration      *prometheus.HistogramVec
	scansInFlight     prometheus.Gauge
	admissionRejected prometheus.Counter

	// Stage metrics
	stageDuration *prometheus.HistogramVec
	stageResults  *prometheus.CounterVec

	// Verdict metrics
	verdictsByRiskLevel *prometheus.CounterVec
	findingsTotal       *prometheus.CounterVec

	// Result cache metrics
	cacheLookups     *prometheus.CounterVec
	cacheCoalesced   prometheus.Counter
	cacheStoreErrors prometheus.Counter

	// Pattern store metrics
	patternsLoaded   prometheus.Gauge
	patternQueryTime *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Threat intel refresh metrics
	threatIntelRefreshTotal    *prometheus.CounterVec
	threatIntelRefreshDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Scan pipeline metrics
		scansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scans_total",
				Help: "Total number of scan requests by scan type and outcome",
			},
			[]string{"scan_type", "outcome"},
		),
		scanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scan_duration_seconds",
				Help:    "End-to-end scan duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 1.5, 2.0, 3.0, 5.0},
			},
			[]string{"scan_type", "cache_hit"},
		),
		scansInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scans_in_flight",
				Help: "Number of scans currently admitted and executing",
			},
		),
		admissionRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_rejected_total",
				Help: "Total number of scans rejected by admission control",
			},
		),

		// Stage metrics
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stage_duration_seconds",
				Help:    "Duration of individual analysis stages in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"stage"},
		),
		stageResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stage_results_total",
				Help: "Total stage executions by stage and status",
			},
			[]string{"stage", "status"},
		),

		// Verdict metrics
		verdictsByRiskLevel: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdicts_total",
				Help: "Total verdicts produced by risk level",
			},
			[]string{"risk_level"},
		),
		findingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "findings_total",
				Help: "Total findings reported by kind and severity",
			},
			[]string{"kind", "severity"},
		),

		// Result cache metrics
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "result_cache_lookups_total",
				Help: "Result cache lookups by outcome (hit, miss)",
			},
			[]string{"outcome"},
		),
		cacheCoalesced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_coalesced_total",
				Help: "Requests that shared another request's in-flight computation",
			},
		),
		cacheStoreErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_store_errors_total",
				Help: "Cache backend errors (scans fall back to direct computation)",
			},
		),

		// Pattern store metrics
		patternsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "exploit_patterns_loaded",
				Help: "Number of exploit patterns currently loaded in memory",
			},
		),
		patternQueryTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pattern_query_duration_seconds",
				Help:    "Duration of pattern store matching in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"tier"},
		),

		// HTTP metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),

		// Threat intel refresh metrics
		threatIntelRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threat_intel_refresh_total",
				Help: "Total threat intelligence refresh runs by status",
			},
			[]string{"status"},
		),
		threatIntelRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threat_intel_refresh_duration_seconds",
				Help:    "Duration of threat intelligence refresh runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"source"},
		),
	}
}

// Scan pipeline metric helpers

// RecordScan records a completed scan request with its outcome
// (completed, cached, rejected, timeout, invalid, failed).
func (m *Metrics) RecordScan(scanType, outcome string, cacheHit bool, duration float64) {
	m.scansTotal.WithLabelValues(scanType, outcome).Inc()
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.scanDuration.WithLabelValues(scanType, hit).Observe(duration)
}

// RecordAdmissionRejected records a scan rejected at admission.
func (m *Metrics) RecordAdmissionRejected() {
	m.admissionRejected.Inc()
}

// RecordInFlightChange adjusts the in-flight scan gauge.
func (m *Metrics) RecordInFlightChange(delta float64) {
	m.scansInFlight.Add(delta)
}

// Stage metric helpers

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(stage, status string, duration float64) {
	m.stageDuration.WithLabelValues(stage).Observe(duration)
	m.stageResults.WithLabelValues(stage, status).Inc()
}

// Verdict metric helpers

// RecordVerdict records a produced verdict.
func (m *Metrics) RecordVerdict(riskLevel string) {
	m.verdictsByRiskLevel.WithLabelValues(riskLevel).Inc()
}

// RecordFinding records a reported finding.
func (m *Metrics) RecordFinding(kind, severity string) {
	m.findingsTotal.WithLabelValues(kind, severity).Inc()
}

// Result cache metric helpers

// RecordCacheLookup records a cache lookup outcome.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordCacheCoalesced records a request that piggybacked on an
// in-flight computation for the same fingerprint.
func (m *Metrics) RecordCacheCoalesced() {
	m.cacheCoalesced.Inc()
}

// RecordCacheStoreError records a cache backend failure.
func (m *Metrics) RecordCacheStoreError() {
	m.cacheStoreErrors.Inc()
}

// Pattern store metric helpers

// RecordPatternsLoaded records the number of patterns in memory.
func (m *Metrics) RecordPatternsLoaded(count int) {
	m.patternsLoaded.Set(float64(count))
}

// RecordPatternQuery records a pattern matching pass for one tier.
func (m *Metrics) RecordPatternQuery(tier string, duration float64) {
	m.patternQueryTime.WithLabelValues(tier).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Threat intel metric helpers

// RecordThreatIntelRefresh records a refresh run.
func (m *Metrics) RecordThreatIntelRefresh(source, status string, duration float64) {
	m.threatIntelRefreshTotal.WithLabelValues(status).Inc()
	m.threatIntelRefreshDuration.WithLabelValues(source).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
