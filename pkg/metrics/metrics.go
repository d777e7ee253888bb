// Package metrics defines the engine's Prometheus collectors.
//
// All collectors register on a dedicated Registry served at /metrics by the
// ops server. Naming follows Prometheus conventions: quando_ prefix, _total
// for counters, _seconds for duration histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/models"
)

// Registry is the engine's metrics registry, separate from the global
// default so only engine collectors are exposed.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		CyclesTotal, CycleDuration,
		JobsTotal,
		EndpointCallsTotal, EndpointDuration,
		LLMCallsTotal, TokensTotal,
		RepairsTotal, EscalationsTotal,
	)
}

var (
	// CyclesTotal counts processing cycles run to completion.
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quando_cycles_total",
		Help: "Processing cycles completed.",
	})

	// CycleDuration is the wall-clock duration of one processing cycle.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quando_cycle_duration_seconds",
		Help:    "Processing cycle duration in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	// JobsTotal counts jobs handled per cycle by outcome.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quando_jobs_total",
			Help: "Jobs handled by outcome.",
		},
		[]string{"outcome"}, // succeeded | failed | skipped
	)

	// EndpointCallsTotal counts endpoint invocations by final outcome.
	EndpointCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quando_endpoint_calls_total",
			Help: "Endpoint invocations by outcome.",
		},
		[]string{"outcome"}, // success | failure | aborted
	)

	// EndpointDuration is the per-endpoint execution time.
	EndpointDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quando_endpoint_duration_seconds",
		Help:    "Endpoint execution time in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// LLMCallsTotal counts planner/scheduler model operations.
	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quando_llm_calls_total",
			Help: "Language model operations by provider, operation, and outcome.",
		},
		[]string{"provider", "operation", "outcome"}, // plan|schedule, ok|error
	)

	// TokensTotal counts model tokens consumed by kind.
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quando_llm_tokens_total",
			Help: "Model tokens consumed by kind.",
		},
		[]string{"kind"}, // input | output | reasoning | cached_input
	)

	// RepairsTotal counts corrective re-prompt activity.
	RepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quando_repairs_total",
			Help: "Corrective re-prompt attempts and outcomes.",
		},
		[]string{"operation", "outcome"}, // attempted | succeeded | failed
	)

	// EscalationsTotal counts escalation level transitions.
	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quando_escalations_total",
			Help: "Escalation level transitions.",
		},
		[]string{"level"}, // warn | critical
	)
)

// ObserveResults records one cycle's endpoint outcomes.
func ObserveResults(results []models.EndpointExecutionResult) {
	for _, r := range results {
		EndpointCallsTotal.WithLabelValues(resultOutcome(r)).Inc()
		EndpointDuration.Observe(float64(r.ExecutionTimeMs) / 1000)
	}
}

func resultOutcome(r models.EndpointExecutionResult) string {
	switch {
	case r.Success:
		return "success"
	case r.Aborted:
		return "aborted"
	default:
		return "failure"
	}
}

// ObserveLLMCall records one planner or scheduler operation.
func ObserveLLMCall(provider, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
}

// AddTokens records model token consumption.
func AddTokens(usage models.TokenUsage) {
	TokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
	TokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	if usage.ReasoningTokens > 0 {
		TokensTotal.WithLabelValues("reasoning").Add(float64(usage.ReasoningTokens))
	}
	if usage.CachedInputTokens > 0 {
		TokensTotal.WithLabelValues("cached_input").Add(float64(usage.CachedInputTokens))
	}
}

// Sink returns an event sink feeding repair and escalation counters, for
// registration on the event publisher.
func Sink() events.Sink {
	return func(ev events.Event) {
		switch payload := ev.Payload.(type) {
		case events.RepairAttemptPayload:
			RepairsTotal.WithLabelValues(payload.Operation, "attempted").Inc()
		case events.RepairOutcomePayload:
			outcome := "succeeded"
			if ev.Type == events.EventTypeRepairFailure {
				outcome = "failed"
			}
			RepairsTotal.WithLabelValues(payload.Operation, outcome).Inc()
		case events.EscalationPayload:
			EscalationsTotal.WithLabelValues(payload.Level).Inc()
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
