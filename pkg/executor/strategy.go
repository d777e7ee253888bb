package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/models"
)

// RunInput carries one job's plan with its resolved endpoint definitions.
// Disabled endpoints are filtered out by the pipeline before Run is called.
type RunInput struct {
	JobID      string
	Plan       *models.ExecutionPlan
	Endpoints  map[string]models.Endpoint
	JobHeaders map[string]string
}

// StrategyRunner drives an execution plan across its endpoints, delegating
// per-endpoint retry decisions to the retry policy.
type StrategyRunner struct {
	executor  *EndpointExecutor
	policy    RetryPolicy
	cfg       *config.ExecutionConfig
	publisher events.Publisher
	logger    *slog.Logger

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStrategyRunner builds a runner. The publisher may be nil; progress
// events are then skipped.
func NewStrategyRunner(executor *EndpointExecutor, policy RetryPolicy, cfg *config.ExecutionConfig, publisher events.Publisher, logger *slog.Logger) *StrategyRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StrategyRunner{
		executor:  executor,
		policy:    policy,
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With("component", "strategy_runner"),
		sleep:     sleepContext,
	}
}

// Run executes the plan and returns one result per attempted endpoint.
// Endpoints never attempted (the tail of a halted sequential run, DAG
// descendants blocked by a failed critical dependency, or endpoints whose
// dispatch was pre-empted by cancellation) are absent from the results.
//
// The only error Run itself produces is an unresolvable mixed-strategy
// graph; everything else is reported through per-endpoint results.
func (r *StrategyRunner) Run(ctx context.Context, in RunInput) ([]models.EndpointExecutionResult, error) {
	if len(in.Plan.EndpointsToCall) == 0 {
		return []models.EndpointExecutionResult{}, nil
	}
	switch in.Plan.ExecutionStrategy {
	case models.StrategySequential:
		return r.runSequential(ctx, in), nil
	case models.StrategyParallel:
		return r.runParallel(ctx, in), nil
	case models.StrategyMixed:
		return r.runMixed(ctx, in)
	default:
		return nil, fmt.Errorf("unsupported execution strategy %q", in.Plan.ExecutionStrategy)
	}
}

// ────────────────────────────────────────────────────────────
// Sequential
// ────────────────────────────────────────────────────────────

func (r *StrategyRunner) runSequential(ctx context.Context, in RunInput) []models.EndpointExecutionResult {
	ordered := orderByPriority(in.Plan.EndpointsToCall)
	total := len(ordered)
	results := make([]models.EndpointExecutionResult, 0, total)

	for _, planned := range ordered {
		if ctx.Err() != nil {
			// Cancellation before dispatch leaves the rest not-attempted.
			break
		}
		result := r.runEndpoint(ctx, in.JobID, planned, in)
		results = append(results, result)
		r.publishExecutionProgress(ctx, in.JobID, total, len(results))

		if !result.Success && planned.Critical {
			r.logger.Warn("Critical endpoint failed, halting sequential run",
				"job_id", in.JobID, "endpoint_id", planned.EndpointID)
			break
		}
	}
	return results
}

func orderByPriority(planned []models.PlannedEndpoint) []models.PlannedEndpoint {
	ordered := make([]models.PlannedEndpoint, len(planned))
	copy(ordered, planned)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	return ordered
}

// ────────────────────────────────────────────────────────────
// Parallel
// ────────────────────────────────────────────────────────────

func (r *StrategyRunner) runParallel(ctx context.Context, in RunInput) []models.EndpointExecutionResult {
	planned := in.Plan.EndpointsToCall
	total := len(planned)
	limit := r.concurrencyLimit(in.Plan)

	sem := make(chan struct{}, limit)
	slots := make([]*models.EndpointExecutionResult, total)
	var completed atomic.Int32
	var wg sync.WaitGroup

	for i := range planned {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Pre-empted before dispatch: not attempted.
				return
			}
			defer func() { <-sem }()

			result := r.runEndpoint(ctx, in.JobID, planned[i], in)
			slots[i] = &result
			r.publishExecutionProgress(ctx, in.JobID, total, int(completed.Add(1)))
		}(i)
	}
	wg.Wait()

	// Results keep submission order regardless of completion order.
	results := make([]models.EndpointExecutionResult, 0, total)
	for _, slot := range slots {
		if slot != nil {
			results = append(results, *slot)
		}
	}
	return results
}

// ────────────────────────────────────────────────────────────
// Mixed (dependency DAG)
// ────────────────────────────────────────────────────────────

func (r *StrategyRunner) runMixed(ctx context.Context, in RunInput) ([]models.EndpointExecutionResult, error) {
	planned := in.Plan.EndpointsToCall
	total := len(planned)
	limit := r.concurrencyLimit(in.Plan)

	byID := make(map[string]models.PlannedEndpoint, total)
	pending := make(map[string]struct{}, total)
	order := make([]string, 0, total)
	dependents := make(map[string][]string)
	for _, p := range planned {
		byID[p.EndpointID] = p
		pending[p.EndpointID] = struct{}{}
		order = append(order, p.EndpointID)
		for _, dep := range p.DependsOn {
			dependents[dep] = append(dependents[dep], p.EndpointID)
		}
	}

	// completed records every finished endpoint and its outcome. Readiness
	// requires all dependencies completed; failed critical dependencies
	// remove their descendants from pending entirely (cascade skip), so a
	// failed non-critical dependency does not block its dependents.
	completed := make(map[string]bool, total)

	ready := func(id string) bool {
		for _, dep := range byID[id].DependsOn {
			if _, ok := completed[dep]; !ok {
				return false
			}
		}
		return true
	}

	skipDependents := func(failedID string) {
		queue := []string{failedID}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, dependent := range dependents[current] {
				if _, ok := pending[dependent]; !ok {
					continue
				}
				delete(pending, dependent)
				r.logger.Info("Skipping endpoint blocked by failed critical dependency",
					"job_id", in.JobID, "endpoint_id", dependent, "failed_dependency", failedID)
				r.publishEndpointProgress(ctx, in.JobID, dependent, events.EndpointStatusSkipped, 0,
					fmt.Sprintf("blocked by failed critical dependency %s", failedID))
				queue = append(queue, dependent)
			}
		}
	}

	type completion struct {
		planned models.PlannedEndpoint
		result  models.EndpointExecutionResult
	}
	done := make(chan completion)
	inFlight := 0
	results := make([]models.EndpointExecutionResult, 0, total)

	for len(pending) > 0 || inFlight > 0 {
		if ctx.Err() == nil {
			for _, id := range order {
				if inFlight >= limit {
					break
				}
				if _, ok := pending[id]; !ok {
					continue
				}
				if !ready(id) {
					continue
				}
				delete(pending, id)
				inFlight++
				go func(p models.PlannedEndpoint) {
					done <- completion{planned: p, result: r.runEndpoint(ctx, in.JobID, p, in)}
				}(byID[id])
			}
		}

		if inFlight == 0 {
			if ctx.Err() != nil {
				// Cancelled before the remaining endpoints dispatched.
				break
			}
			// Nothing ready, nothing running, endpoints remain: the
			// dependency graph cannot make progress.
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			return results, fmt.Errorf("circular dependency detected among endpoints: %s", strings.Join(ids, ", "))
		}

		c := <-done
		inFlight--
		results = append(results, c.result)
		completed[c.planned.EndpointID] = c.result.Success
		r.publishExecutionProgress(ctx, in.JobID, total, len(results))

		if c.planned.Critical && !c.result.Success {
			skipDependents(c.planned.EndpointID)
		}
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// Per-endpoint retry loop
// ────────────────────────────────────────────────────────────

// runEndpoint drives one planned endpoint to a terminal result, retrying
// per the policy. The returned result carries the final classification and
// the total attempt count.
func (r *StrategyRunner) runEndpoint(ctx context.Context, jobID string, planned models.PlannedEndpoint, in RunInput) models.EndpointExecutionResult {
	endpoint, ok := in.Endpoints[planned.EndpointID]
	if !ok {
		return models.EndpointExecutionResult{
			EndpointID:    planned.EndpointID,
			Timestamp:     time.Now().UTC(),
			Error:         fmt.Sprintf("endpoint %s is not defined on the job", planned.EndpointID),
			ErrorCategory: string(FailureUnknown),
		}
	}

	spec := CallSpec{
		Endpoint:   endpoint,
		Parameters: planned.Parameters,
		Headers:    planned.Headers,
		JobHeaders: in.JobHeaders,
	}

	for attempt := 1; ; attempt++ {
		if attempt == 1 {
			r.publishEndpointProgress(ctx, jobID, planned.EndpointID, events.EndpointStatusStarted, attempt, "")
		}

		result := r.executor.Execute(ctx, spec)
		result.Attempts = attempt
		if result.Success {
			r.publishEndpointProgress(ctx, jobID, planned.EndpointID, events.EndpointStatusSucceeded, attempt, "")
			return result
		}

		failed := Attempt{
			Attempt:      attempt,
			Category:     FailureCategory(result.ErrorCategory),
			StatusCode:   result.StatusCode,
			ErrorMessage: result.Error,
		}
		switch r.policy.Decide(failed) {
		case DecisionRetry:
			r.publishEndpointProgress(ctx, jobID, planned.EndpointID, events.EndpointStatusRetrying, attempt, result.Error)
			if err := r.sleep(ctx, r.policy.Backoff(failed)); err != nil {
				// Cancelled during backoff; the endpoint was already
				// dispatched at least once, so it stays in the results.
				result.Aborted = true
				return result
			}
		case DecisionEscalate:
			r.logger.Warn("Endpoint retries escalated at critical attempt threshold",
				"job_id", jobID, "endpoint_id", planned.EndpointID, "attempt", attempt)
			r.publishEndpointProgress(ctx, jobID, planned.EndpointID, events.EndpointStatusFailed, attempt, result.Error)
			return result
		default:
			r.publishEndpointProgress(ctx, jobID, planned.EndpointID, events.EndpointStatusFailed, attempt, result.Error)
			return result
		}
	}
}

func (r *StrategyRunner) concurrencyLimit(plan *models.ExecutionPlan) int {
	limit := r.cfg.DefaultConcurrencyLimit
	if plan.ConcurrencyLimit != nil && *plan.ConcurrencyLimit > 0 {
		limit = *plan.ConcurrencyLimit
	}
	if r.cfg.MaxConcurrency > 0 && limit > r.cfg.MaxConcurrency {
		limit = r.cfg.MaxConcurrency
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (r *StrategyRunner) publishEndpointProgress(ctx context.Context, jobID, endpointID, status string, attempt int, errMsg string) {
	if r.publisher == nil {
		return
	}
	payload := events.EndpointProgressPayload{
		JobID:      jobID,
		EndpointID: endpointID,
		Status:     status,
		Attempt:    attempt,
		Error:      errMsg,
	}
	if err := r.publisher.PublishEndpointProgress(ctx, payload); err != nil {
		r.logger.Warn("Failed to publish endpoint progress",
			"job_id", jobID, "endpoint_id", endpointID, "error", err)
	}
}

func (r *StrategyRunner) publishExecutionProgress(ctx context.Context, jobID string, total, completed int) {
	if r.publisher == nil {
		return
	}
	payload := events.ExecutionProgressPayload{
		JobID:     jobID,
		Total:     total,
		Completed: completed,
	}
	if err := r.publisher.PublishExecutionProgress(ctx, payload); err != nil {
		r.logger.Warn("Failed to publish execution progress", "job_id", jobID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
