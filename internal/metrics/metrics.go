// Package metrics exposes the gateway's Prometheus instrumentation:
// routing decisions, quota pool state, and end-to-end request latency.
// Collectors are registered once at package init on the default registry
// and served by /metrics. Collectors for route failures, executor
// attempts, failovers, exhaustion, and pipeline conversion latency are
// registered as well, but no package calls their Record/Observe functions,
// so those series stay empty.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/routecodex/routecodex/common/config"
)

const namespace = "routecodex"

var (
	routeSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_selections_total",
			Help:      "Routing decisions by route name and selected provider key",
		},
		[]string{"route", "provider_key"},
	)

	routeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_failures_total",
			Help:      "Route calls that found no ready target",
		},
		[]string{"route"},
	)

	executorAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_attempts_total",
			Help:      "Outbound provider attempts by provider key and outcome",
		},
		[]string{"provider_key", "outcome"},
	)

	executorFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_failovers_total",
			Help:      "Failovers to a subsequent target within one request",
		},
		[]string{"route"},
	)

	executorExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_exhausted_total",
			Help:      "Requests that ran out of targets before succeeding",
		},
		[]string{"route"},
	)

	poolState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_pool_state",
			Help:      "Pool-membership state per provider key (0=ok 1=cooldown 2=quotaDepleted 3=blacklist 4=other)",
		},
		[]string{"provider_key"},
	)

	conversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Pipeline conversion latency by stage",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency by endpoint and status",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)
)

// RecordRouteSelection counts one successful routing decision.
func RecordRouteSelection(route, providerKey string) {
	if !config.IsRoutingMetricsEnabled() {
		return
	}
	routeSelections.WithLabelValues(route, providerKey).Inc()
}

// RecordRouteFailure counts one route call that found no ready target.
func RecordRouteFailure(route string) {
	routeFailures.WithLabelValues(route).Inc()
}

// RecordAttempt counts one outbound provider attempt. outcome is "success"
// or the gateway error class string.
func RecordAttempt(providerKey, outcome string) {
	executorAttempts.WithLabelValues(providerKey, outcome).Inc()
}

// RecordFailover counts one failover to a subsequent target.
func RecordFailover(route string) {
	executorFailovers.WithLabelValues(route).Inc()
}

// RecordExhausted counts one request that ran out of targets.
func RecordExhausted(route string) {
	executorExhausted.WithLabelValues(route).Inc()
}

// SetPoolState publishes a provider's pool-membership reason as a gauge.
func SetPoolState(providerKey, reason string) {
	poolState.WithLabelValues(providerKey).Set(poolStateValue(reason))
}

func poolStateValue(reason string) float64 {
	switch reason {
	case "ok":
		return 0
	case "cooldown":
		return 1
	case "quotaDepleted":
		return 2
	case "blacklist":
		return 3
	default:
		return 4
	}
}

// ObserveConversion records one pipeline conversion's latency.
func ObserveConversion(stage string, elapsed time.Duration) {
	conversionDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveRequest records one request's end-to-end latency.
func ObserveRequest(endpoint, status string, elapsed time.Duration) {
	requestDuration.WithLabelValues(endpoint, status).Observe(elapsed.Seconds())
}
