package models

// Strategy selects how planned endpoints are driven.
type Strategy string

const (
	// StrategySequential runs endpoints one at a time in priority order.
	StrategySequential Strategy = "sequential"
	// StrategyParallel runs all endpoints concurrently under a semaphore.
	StrategyParallel Strategy = "parallel"
	// StrategyMixed runs a dependency DAG with bounded concurrency.
	StrategyMixed Strategy = "mixed"
)

// IsValid checks if the strategy is valid.
func (s Strategy) IsValid() bool {
	return s == StrategySequential || s == StrategyParallel || s == StrategyMixed
}

// PlannedEndpoint is one entry of an execution plan.
type PlannedEndpoint struct {
	EndpointID string         `json:"endpointId"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Headers are merged last, over job and endpoint defaults.
	Headers map[string]string `json:"headers,omitempty"`

	// Priority orders sequential execution, ascending. Ties keep plan order.
	Priority int `json:"priority"`

	// DependsOn lists endpoint ids that must complete before this one
	// becomes ready (mixed strategy only). A failed critical dependency
	// skips its dependents instead.
	DependsOn []string `json:"dependsOn,omitempty"`

	// Critical endpoints halt the sequential run and block DAG descendants
	// when they fail after retries.
	Critical bool `json:"critical"`
}

// ExecutionPlan is the planner's output for one cycle.
type ExecutionPlan struct {
	EndpointsToCall   []PlannedEndpoint `json:"endpointsToCall"`
	ExecutionStrategy Strategy          `json:"executionStrategy"`

	// ConcurrencyLimit bounds parallel/mixed execution. Nil falls back to the
	// configured default; the global max concurrency caps it either way.
	ConcurrencyLimit *int `json:"concurrencyLimit,omitempty"`

	// PreliminaryNextRunAt is the planner's early schedule hint (ISO-8601).
	// The schedule decision made after execution supersedes it.
	PreliminaryNextRunAt *string `json:"preliminaryNextRunAt,omitempty"`

	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`

	// Usage is the token accounting of the planner call(s), including repair.
	Usage *TokenUsage `json:"usage,omitempty"`
}
