// Package metrics declares the Prometheus instruments exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scoring
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_scans_total",
			Help: "Total number of scored items",
		},
		[]string{"content_type", "severity", "engine"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_scan_duration_seconds",
			Help:    "End-to-end scan pipeline duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"content_type"},
	)

	AssessorFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_assessor_fallbacks_total",
			Help: "Assessor calls that fell back to heuristics",
		},
		[]string{"reason"}, // "error", "timeout", "open", "invalid"
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Rules
	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_rule_matches_total",
			Help: "Rule matches by rule ID",
		},
		[]string{"rule_id"},
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_rules_loaded",
			Help: "Number of rules currently loaded",
		},
	)

	// Alerts
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_alerts_raised_total",
			Help: "Alerts raised by severity",
		},
		[]string{"severity"},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_alert_transitions_total",
			Help: "Alert state transitions",
		},
		[]string{"from", "to"},
	)

	// Healing
	HealingActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_healing_actions_total",
			Help: "Healing log entries by action and outcome",
		},
		[]string{"action", "success"},
	)

	BlockedSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_blocked_sources",
			Help: "Number of currently blocked sources",
		},
	)

	DisabledIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_disabled_identities",
			Help: "Number of currently disabled identities",
		},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_api_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// Infrastructure
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_cache_lookups_total",
			Help: "Local cache lookups by result (hit, miss, expired)",
		},
		[]string{"result"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_cache_evictions_total",
			Help: "Entries evicted from the local cache for capacity",
		},
	)

	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_bus_dropped_total",
			Help: "Messages dropped because a subscriber buffer was full",
		},
		[]string{"topic"},
	)
)

// RecordScan records a completed scan.
func RecordScan(contentType, severity, engine string, duration time.Duration) {
	ScansTotal.WithLabelValues(contentType, severity, engine).Inc()
	ScanDuration.WithLabelValues(contentType).Observe(duration.Seconds())
}

// RecordHealingAction counts one healing log entry.
func RecordHealingAction(action string, success bool) {
	HealingActions.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
