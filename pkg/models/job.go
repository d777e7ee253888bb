// Package models defines the domain entities shared across the engine:
// jobs, endpoints, messages, execution plans, results, summaries, and
// schedule decisions. Storage representation is the store adapter's concern;
// these types carry the wire shape (camelCase JSON) used by the scheduler API
// and the language model.
package models

import "time"

// JobStatus is the lifecycle status of a job.
type JobStatus string

const (
	// JobStatusActive means the job is eligible for scheduling.
	JobStatusActive JobStatus = "ACTIVE"
	// JobStatusPaused means the job is suspended and never due.
	JobStatusPaused JobStatus = "PAUSED"
	// JobStatusArchived means the job is retired.
	JobStatusArchived JobStatus = "ARCHIVED"
)

// IsValid checks if the job status is valid.
func (s JobStatus) IsValid() bool {
	return s == JobStatusActive || s == JobStatusPaused || s == JobStatusArchived
}

// ExecutionStatus is the per-cycle processing status reported to the store.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// TokenUsage aggregates language-model token accounting. Counters are
// cumulative and monotonic non-decreasing across cycles.
type TokenUsage struct {
	InputTokens       int64 `json:"inputTokens"`
	OutputTokens      int64 `json:"outputTokens"`
	TotalTokens       int64 `json:"totalTokens"`
	ReasoningTokens   int64 `json:"reasoningTokens,omitempty"`
	CachedInputTokens int64 `json:"cachedInputTokens,omitempty"`
}

// Add accumulates another usage delta into u.
func (u *TokenUsage) Add(delta TokenUsage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.TotalTokens += delta.TotalTokens
	u.ReasoningTokens += delta.ReasoningTokens
	u.CachedInputTokens += delta.CachedInputTokens
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 && u.CachedInputTokens == 0
}

// Job is a user-defined, AI-scheduled task owning a set of HTTP endpoints.
// The definition is natural language; the planner reads it every cycle.
type Job struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Definition string    `json:"definition"`
	Status     JobStatus `json:"status"`

	// NextRunAt is the absolute timestamp chosen by the scheduling agent.
	// Nil means the job has never been scheduled (not due).
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`

	// Locked and LockExpiresAt implement the processing lease. A job is
	// claimable when unlocked or when the lease has expired.
	Locked        bool       `json:"locked"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`

	// DefaultHeaders are applied to every endpoint call, lowest precedence.
	DefaultHeaders map[string]string `json:"defaultHeaders,omitempty"`

	TokenUsage TokenUsage `json:"tokenUsage"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
