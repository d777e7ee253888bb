package models

import "time"

// EscalationLevel is the ratio-derived severity of a cycle's endpoint failures.
type EscalationLevel string

const (
	EscalationNone     EscalationLevel = "none"
	EscalationWarn     EscalationLevel = "warn"
	EscalationCritical EscalationLevel = "critical"
)

// RecoveryAction is the engine's response to an escalation level.
type RecoveryAction string

const (
	RecoveryNone              RecoveryAction = "NONE"
	RecoveryBackoffOnly       RecoveryAction = "BACKOFF_ONLY"
	RecoveryReduceConcurrency RecoveryAction = "REDUCE_CONCURRENCY"
	RecoveryDisableEndpoint   RecoveryAction = "DISABLE_ENDPOINT"
)

// ExecutionSummary aggregates one cycle's endpoint outcomes for a job.
type ExecutionSummary struct {
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	TotalDurationMs int64     `json:"totalDurationMs"`

	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
	AbortedCount int `json:"abortedCount"`

	EscalationLevel EscalationLevel `json:"escalationLevel"`
	RecoveryAction  RecoveryAction  `json:"recoveryAction"`

	// DisabledEndpoints lists endpoint ids disabled by this cycle's
	// DISABLE_ENDPOINT recovery action.
	DisabledEndpoints []string `json:"disabledEndpoints,omitempty"`
}
