package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/triagestack/ticket-router/internal/models"
)

const (
	// CacheGateHit labels candidates that cleared both gate thresholds.
	CacheGateHit = "hit"
	// CacheGateMiss labels candidates rejected by either threshold.
	CacheGateMiss = "miss"

	// ReloadOK labels configuration reloads that swapped in a new snapshot.
	ReloadOK = "ok"
	// ReloadRejected labels reloads rejected by validation.
	ReloadRejected = "rejected"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket_router",
			Name:      "decisions_total",
			Help:      "Total routing decisions issued, partitioned by method.",
		},
		[]string{"method"},
	)

	decisionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ticket_router",
			Name:      "decision_seconds",
			Help:      "End-to-end routing decision latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ticket_router",
			Name:      "stage_seconds",
			Help:      "Per-stage latency in seconds.",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"stage"},
	)

	cacheGateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket_router",
			Name:      "cache_gate_total",
			Help:      "Similarity cache gate evaluations, partitioned by verdict.",
		},
		[]string{"verdict"},
	)

	llmRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ticket_router",
			Name:      "llm_retries_total",
			Help:      "Total LLM call retries after a transient failure.",
		},
	)

	auditDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ticket_router",
			Name:      "audit_dropped_total",
			Help:      "Audit entries dropped because the journal buffer was full.",
		},
	)

	configReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket_router",
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches ticket-router collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		decisionsTotal,
		decisionDurationSeconds,
		stageDurationSeconds,
		cacheGateTotal,
		llmRetriesTotal,
		auditDroppedTotal,
		configReloadsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDecision records one finished routing decision with its per-stage
// latency breakdown.
func ObserveDecision(decision models.RoutingDecision, duration time.Duration) {
	decisionsTotal.WithLabelValues(string(decision.Method)).Inc()
	if duration < 0 {
		duration = 0
	}
	decisionDurationSeconds.Observe(duration.Seconds())
	for stage, latency := range decision.StageLatencies {
		if latency < 0 {
			latency = 0
		}
		stageDurationSeconds.WithLabelValues(string(stage)).Observe(latency.Seconds())
	}
}

// ObserveCacheGate counts one gate evaluation.
func ObserveCacheGate(hit bool) {
	verdict := CacheGateMiss
	if hit {
		verdict = CacheGateHit
	}
	cacheGateTotal.WithLabelValues(verdict).Inc()
}

// ObserveLLMRetry counts one retried LLM call.
func ObserveLLMRetry() {
	llmRetriesTotal.Inc()
}

// ObserveAuditDrop counts one audit entry lost to backpressure.
func ObserveAuditDrop() {
	auditDroppedTotal.Inc()
}

// ObserveConfigReload counts one reload attempt.
func ObserveConfigReload(ok bool) {
	outcome := ReloadRejected
	if ok {
		outcome = ReloadOK
	}
	configReloadsTotal.WithLabelValues(outcome).Inc()
}
