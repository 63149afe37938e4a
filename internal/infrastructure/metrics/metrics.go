package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "terminal"

// Metrics groups the reconciliation counters. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	webhooks          *prometheus.CounterVec
	resolverAnswers   *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	sideEffectFailure *prometheus.CounterVec
	conflicts         prometheus.Counter
	storeErrors       *prometheus.CounterVec
	gatewayRequests   *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass nil to build unregistered ones.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by classification outcome.",
		}, []string{"classification"}),
		resolverAnswers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_answers_total",
			Help:      "Poll answers by source and status.",
		}, []string{"source", "status"}),
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by result.",
		}, []string{"result"}),
		sideEffectFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_side_effect_failures_total",
			Help:      "Best-effort settlement steps that failed without reverting the payment.",
		}, []string{"step"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_conflicting_terminal_status_total",
			Help:      "Webhooks that reported a terminal status different from the cached one.",
		}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Session or webhook store operations that failed on the request path.",
		}, []string{"operation"}),
		gatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Gateway adapter calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_seconds",
			Help:      "Gateway adapter call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, []string{"operation"}),
	}
}

func (m *Metrics) WebhookClassified(classification string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(classification).Inc()
}

func (m *Metrics) ResolverAnswered(source, status string) {
	if m == nil {
		return
	}
	m.resolverAnswers.WithLabelValues(source, status).Inc()
}

func (m *Metrics) Settlement(result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(result).Inc()
}

func (m *Metrics) SideEffectFailed(step string) {
	if m == nil {
		return
	}
	m.sideEffectFailure.WithLabelValues(step).Inc()
}

func (m *Metrics) ConflictingTerminalStatus() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) StoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

// GatewayCall records one adapter call; outcome is "ok" or "error"
func (m *Metrics) GatewayCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(seconds)
}
