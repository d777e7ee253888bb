package executor

import (
	"net/http"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genFailureCategory draws from every category the executor classifies.
func genFailureCategory() gopter.Gen {
	return gen.OneConstOf(
		FailureTimeout, FailureNetwork, FailureHTTP4xx,
		FailureHTTP5xx, FailureAborted, FailureUnknown,
	)
}

// driveToTerminal replays failures of one category/status against the policy
// until it stops retrying, and returns the final attempt number.
func driveToTerminal(p RetryPolicy, category FailureCategory, status int) int {
	for attempt := 1; ; attempt++ {
		a := Attempt{Attempt: attempt, Category: category, StatusCode: status}
		if p.Decide(a) != DecisionRetry {
			return attempt
		}
	}
}

func TestRetryPolicyAttemptBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genPolicy := gopter.CombineGens(
		gen.IntRange(1, 10),  // MaxAttempts
		gen.IntRange(0, 12),  // WarnThresholdAttempt, 0 disables
		gen.IntRange(0, 12),  // CriticalThresholdAttempt, 0 disables
	).Map(func(vals []interface{}) RetryPolicy {
		return RetryPolicy{
			MaxAttempts:              vals[0].(int),
			WarnThresholdAttempt:     vals[1].(int),
			CriticalThresholdAttempt: vals[2].(int),
		}
	})

	properties.Property("attempts never exceed the cap or the critical threshold", prop.ForAll(
		func(p RetryPolicy, category FailureCategory) bool {
			status := 0
			switch category {
			case FailureHTTP4xx:
				status = http.StatusTooManyRequests
			case FailureHTTP5xx:
				status = http.StatusBadGateway
			}
			terminal := driveToTerminal(p, category, status)

			bound := p.MaxAttempts
			if transientFailure(category, status) && p.CriticalThresholdAttempt > 0 && p.CriticalThresholdAttempt < bound {
				bound = p.CriticalThresholdAttempt
			}
			if bound < 1 {
				bound = 1
			}
			return terminal <= bound
		},
		genPolicy,
		genFailureCategory(),
	))

	properties.Property("non-transient failures terminate on the first attempt", prop.ForAll(
		func(p RetryPolicy, status int) bool {
			return driveToTerminal(p, FailureHTTP4xx, status) == 1 &&
				driveToTerminal(p, FailureAborted, 0) == 1 &&
				driveToTerminal(p, FailureUnknown, 0) == 1
		},
		genPolicy,
		gen.OneConstOf(400, 401, 403, 404, 410, 422),
	))

	properties.Property("escalate only fires at or past the critical threshold", prop.ForAll(
		func(p RetryPolicy, category FailureCategory, attempt int) bool {
			status := 0
			if category == FailureHTTP4xx {
				status = http.StatusRequestTimeout
			}
			decision := p.Decide(Attempt{Attempt: attempt, Category: category, StatusCode: status})
			if decision != DecisionEscalate {
				return true
			}
			return p.CriticalThresholdAttempt > 0 &&
				attempt >= p.CriticalThresholdAttempt &&
				transientFailure(category, status)
		},
		genPolicy,
		genFailureCategory(),
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}

func TestRetryPolicyBackoffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff is always positive", prop.ForAll(
		func(attempt, warn, critical int, rateLimited bool) bool {
			p := RetryPolicy{MaxAttempts: 10, WarnThresholdAttempt: warn, CriticalThresholdAttempt: critical}
			status := 0
			if rateLimited {
				status = http.StatusTooManyRequests
			}
			return p.Backoff(Attempt{Attempt: attempt, StatusCode: status}) > 0
		},
		gen.IntRange(1, 15),
		gen.IntRange(0, 15),
		gen.IntRange(0, 15),
		gen.Bool(),
	))

	properties.Property("crossing a threshold doubles the delay", prop.ForAll(
		func(attempt int, rateLimited bool) bool {
			status := 0
			if rateLimited {
				status = http.StatusTooManyRequests
			}
			a := Attempt{Attempt: attempt, StatusCode: status}

			plain := RetryPolicy{MaxAttempts: 10}.Backoff(a)
			warned := RetryPolicy{MaxAttempts: 10, WarnThresholdAttempt: attempt}.Backoff(a)
			critical := RetryPolicy{MaxAttempts: 10, WarnThresholdAttempt: attempt, CriticalThresholdAttempt: attempt}.Backoff(a)

			return warned == 2*plain && critical == 4*plain
		},
		gen.IntRange(1, 10),
		gen.Bool(),
	))

	properties.Property("rate-limit backoff never shrinks between attempts", prop.ForAll(
		func(attempt int) bool {
			p := RetryPolicy{MaxAttempts: 10}
			current := p.Backoff(Attempt{Attempt: attempt, StatusCode: http.StatusTooManyRequests})
			next := p.Backoff(Attempt{Attempt: attempt + 1, StatusCode: http.StatusTooManyRequests})
			return next >= current
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
