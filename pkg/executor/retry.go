// Package executor drives planned endpoint invocations: single HTTP calls,
// per-endpoint retry decisions, and the sequential/parallel/mixed execution
// strategies.
package executor

import (
	"net/http"
	"time"
)

// FailureCategory classifies one failed endpoint attempt.
type FailureCategory string

const (
	FailureTimeout FailureCategory = "timeout"
	FailureNetwork FailureCategory = "network"
	FailureHTTP4xx FailureCategory = "http_4xx"
	FailureHTTP5xx FailureCategory = "http_5xx"
	FailureAborted FailureCategory = "aborted"
	FailureUnknown FailureCategory = "unknown"
)

// Decision is the retry policy's verdict for one failed attempt.
type Decision string

const (
	// DecisionRetry re-runs the endpoint after the backoff delay.
	DecisionRetry Decision = "retry"
	// DecisionFail records the failure and moves on.
	DecisionFail Decision = "fail"
	// DecisionEscalate halts retries and surfaces the failure to the
	// pipeline as retry-exhaustion at the critical attempt threshold.
	DecisionEscalate Decision = "escalate"
)

// Attempt describes one failed endpoint attempt for the policy.
type Attempt struct {
	// Attempt is 1-based.
	Attempt      int
	Category     FailureCategory
	StatusCode   int
	ErrorMessage string
}

// RetryPolicy decides whether a failed endpoint attempt is retried, failed,
// or escalated, and how long to wait before the next attempt.
type RetryPolicy struct {
	// MaxAttempts caps attempts per endpoint per cycle.
	MaxAttempts int

	// WarnThresholdAttempt doubles the backoff once reached. Zero disables.
	WarnThresholdAttempt int

	// CriticalThresholdAttempt escalates transient failures once reached
	// and doubles the backoff again. Zero disables.
	CriticalThresholdAttempt int
}

// Decide applies the decision rules in order: aborted attempts and
// non-retryable 4xx always fail; transient failures escalate at the critical
// attempt threshold; the attempt cap fails; what remains retries only when
// transient.
func (p RetryPolicy) Decide(a Attempt) Decision {
	if a.Category == FailureAborted {
		return DecisionFail
	}
	if a.Category == FailureHTTP4xx && !retryableStatus(a.StatusCode) {
		return DecisionFail
	}
	transient := transientFailure(a.Category, a.StatusCode)
	if transient && p.CriticalThresholdAttempt > 0 && a.Attempt >= p.CriticalThresholdAttempt {
		return DecisionEscalate
	}
	if a.Attempt >= p.MaxAttempts {
		return DecisionFail
	}
	if transient {
		return DecisionRetry
	}
	return DecisionFail
}

// Backoff returns the delay before the next attempt. Rate-limited attempts
// back off exponentially; everything else scales linearly with the attempt
// number. Crossing the warn threshold doubles the delay, crossing the
// critical threshold doubles it again.
func (p RetryPolicy) Backoff(a Attempt) time.Duration {
	var delay time.Duration
	if a.StatusCode == http.StatusTooManyRequests {
		ms := int64(5000)
		if shift := a.Attempt - 1; shift < 4 {
			ms = 500 << shift
		}
		delay = time.Duration(ms) * time.Millisecond
	} else {
		delay = time.Duration(a.Attempt) * 250 * time.Millisecond
	}
	if p.WarnThresholdAttempt > 0 && a.Attempt >= p.WarnThresholdAttempt {
		delay *= 2
	}
	if p.CriticalThresholdAttempt > 0 && a.Attempt >= p.CriticalThresholdAttempt {
		delay *= 2
	}
	return delay
}

// retryableStatus reports whether a 4xx status is still worth retrying.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func transientFailure(category FailureCategory, status int) bool {
	switch category {
	case FailureTimeout, FailureNetwork, FailureHTTP5xx:
		return true
	case FailureHTTP4xx:
		return retryableStatus(status)
	default:
		return false
	}
}
