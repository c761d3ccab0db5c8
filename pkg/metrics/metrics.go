// Package metrics defines the Prometheus metrics for the kernel and its
// subsystems, plus the sink adapters that feed them from the flag log, usage
// log, audit trail, and orchestrator events.
//
// Metric naming follows Prometheus conventions:
//   - aether_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BrokerQueriesTotal counts information queries by category and decision.
	BrokerQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_broker_queries_total",
			Help: "Total information broker queries by category and decision.",
		},
		[]string{"category", "decision"},
	)

	// SanitizedQueriesTotal counts queries whose payload was sanitized.
	SanitizedQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_sanitized_queries_total",
			Help: "Total queries with payload sanitization applied.",
		},
		[]string{"category"},
	)

	// AuthzDecisionsTotal counts authorization decisions by action and outcome.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_authz_decisions_total",
			Help: "Total authorization decisions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	// FlagsTotal counts process-improvement flags by type and agent.
	FlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_improvement_flags_total",
			Help: "Total process improvement flags raised.",
		},
		[]string{"type", "agent"},
	)

	// TimeWastedHoursTotal accumulates flagged wasted hours by agent.
	TimeWastedHoursTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_time_wasted_hours_total",
			Help: "Total hours lost to flagged inefficiencies.",
		},
		[]string{"agent"},
	)

	// ContextUtilization is the distribution of context window utilization
	// rates per agent.
	ContextUtilization = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aether_context_utilization_ratio",
			Help:    "Context window utilization rate per tracked response.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"agent"},
	)

	// ContextWindowTokens is the distribution of tracked window sizes.
	ContextWindowTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aether_context_window_tokens",
			Help:    "Tokens in the context window per tracked response.",
			Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000},
		},
		[]string{"agent"},
	)

	// PhaseTransitionsTotal counts orchestrator phase entries by phase.
	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_phase_transitions_total",
			Help: "Total phase-entered transitions.",
		},
		[]string{"phase"},
	)

	// CyclesTotal counts cycle lifecycle events by terminal status.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_cycles_total",
			Help: "Total ATO cycle lifecycle events.",
		},
		[]string{"event"},
	)

	// LLMRequestsTotal counts generation requests by provider and outcome.
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_llm_requests_total",
			Help: "Total LLM generation requests by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// LLMTokensTotal counts tokens reported by providers.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_llm_tokens_total",
			Help: "Total tokens consumed across LLM requests.",
		},
		[]string{"provider"},
	)
)

// RecordAuthzDecision records one authorization outcome.
func RecordAuthzDecision(action string, allow bool) {
	outcome := "deny"
	if allow {
		outcome = "allow"
	}
	AuthzDecisionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordLLMRequest records one generation attempt.
func RecordLLMRequest(provider string, success bool, tokens int) {
	outcome := "error"
	if success {
		outcome = "ok"
	}
	LLMRequestsTotal.WithLabelValues(provider, outcome).Inc()
	if tokens > 0 {
		LLMTokensTotal.WithLabelValues(provider).Add(float64(tokens))
	}
}
