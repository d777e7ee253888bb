package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/executor"
	"github.com/quandohq/quando/pkg/metrics"
	"github.com/quandohq/quando/pkg/models"
	"github.com/quandohq/quando/pkg/store"
)

// Error codes attached to terminal job failures, derived from the pipeline
// stage that failed.
const (
	CodePlanError      = "plan_error"
	CodeExecutionError = "execution_error"
	CodeScheduleError  = "schedule_error"
	CodeUnknownError   = "unknown_error"
)

// JobError is a terminal pipeline failure for one job.
type JobError struct {
	JobID string
	Code  string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed (%s): %v", e.JobID, e.Code, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Planner produces the execution plan for a job cycle.
type Planner interface {
	Plan(ctx context.Context, jobCtx *models.JobContext) (*models.ExecutionPlan, error)
}

// Scheduler decides the job's next run time after a cycle.
type Scheduler interface {
	Schedule(ctx context.Context, jobCtx *models.JobContext, results []models.EndpointExecutionResult, summary *models.ExecutionSummary) (*models.ScheduleDecision, error)
}

// Runner executes a plan against its endpoints.
type Runner interface {
	Run(ctx context.Context, in executor.RunInput) ([]models.EndpointExecutionResult, error)
}

// Pipeline processes one job per call: lease, load context, plan, execute,
// summarize, schedule, release. The lease is always released once acquired,
// whatever happens in between.
type Pipeline struct {
	store       store.Store
	planner     Planner
	scheduler   Scheduler
	runner      Runner
	escalations *escalationRegistry
	state       *State
	publisher   events.Publisher
	cfg         *config.Config
	logger      *slog.Logger
	now         func() time.Time
}

// ProcessJob runs one job through the cycle state machine. processed is
// false for benign skips: lock contention and jobs that vanished between
// the due list and the context fetch. A non-nil error is always a *JobError
// carrying the stage code.
func (p *Pipeline) ProcessJob(ctx context.Context, jobID string) (processed bool, err error) {
	logger := p.logger.With("job_id", jobID)
	now := p.now()

	acquired, lockErr := p.store.LockJob(ctx, jobID, now.Add(p.cfg.Scheduler.StaleLockThreshold))
	if lockErr != nil {
		return false, p.fail(ctx, logger, jobID, CodeUnknownError, fmt.Errorf("acquire lease: %w", lockErr))
	}
	if !acquired {
		logger.Debug("Job lease held elsewhere, skipping")
		return false, nil
	}

	// Release must survive engine shutdown, hence the detached context.
	defer func() {
		if _, unlockErr := p.store.UnlockJob(context.WithoutCancel(ctx), jobID); unlockErr != nil {
			logger.Warn("Failed to release job lease", "error", unlockErr)
		}
	}()

	var jobCtx *models.JobContext
	loadErr := store.RetryTransient(ctx, logger, "get job context", func() error {
		var fetchErr error
		jobCtx, fetchErr = p.store.GetJobContext(ctx, jobID)
		return fetchErr
	})
	if errors.Is(loadErr, store.ErrNotFound) {
		logger.Warn("Job context missing, skipping")
		return false, nil
	}
	if loadErr != nil {
		return false, p.fail(ctx, logger, jobID, CodeUnknownError, fmt.Errorf("load job context: %w", loadErr))
	}

	jobCtx.ExecutionContext.CurrentTime = now
	if !jobCtx.ExecutionContext.Environment.IsValid() {
		jobCtx.ExecutionContext.Environment = p.cfg.Environment
	}

	p.updateStatus(ctx, logger, jobID, models.ExecutionStatusRunning, "")

	plan, err := p.plan(ctx, logger, jobID, jobCtx)
	if err != nil {
		return false, err
	}

	results, err := p.execute(ctx, logger, jobID, jobCtx, plan)
	if err != nil {
		return false, err
	}

	summary, err := p.summarize(ctx, logger, jobID, results)
	if err != nil {
		return false, err
	}

	decision, err := p.schedule(ctx, logger, jobID, jobCtx, results, summary)
	if err != nil {
		return false, err
	}

	p.updateStatus(ctx, logger, jobID, models.ExecutionStatusSucceeded, "")
	logger.Info("Job cycle completed",
		"strategy", plan.ExecutionStrategy,
		"endpoints", len(results),
		"escalation_level", summary.EscalationLevel,
		"next_run_at", decision.NextRunAt)
	return true, nil
}

// ────────────────────────────────────────────────────────────
// Stages
// ────────────────────────────────────────────────────────────

func (p *Pipeline) plan(ctx context.Context, logger *slog.Logger, jobID string, jobCtx *models.JobContext) (*models.ExecutionPlan, error) {
	plan, planErr := p.planner.Plan(ctx, jobCtx)
	p.state.AddAgentCall()
	metrics.ObserveLLMCall(string(p.cfg.AI.Provider), "plan", planErr)
	if planErr != nil {
		return nil, p.fail(ctx, logger, jobID, CodePlanError, planErr)
	}
	if plan.Usage != nil {
		p.accountTokens(ctx, logger, jobID, *plan.Usage)
	}

	if persistErr := store.RetryTransient(ctx, logger, "record execution plan", func() error {
		return p.store.RecordExecutionPlan(ctx, jobID, plan)
	}); persistErr != nil {
		return nil, p.fail(ctx, logger, jobID, CodePlanError, fmt.Errorf("record execution plan: %w", persistErr))
	}
	return plan, nil
}

func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, jobID string, jobCtx *models.JobContext, plan *models.ExecutionPlan) ([]models.EndpointExecutionResult, error) {
	planned, removed := p.escalations.FilterPlanned(jobID, plan.EndpointsToCall)
	if len(removed) > 0 {
		logger.Info("Skipping disabled endpoints", "endpoint_ids", removed)
	}
	execPlan := *plan
	execPlan.EndpointsToCall = planned

	results, runErr := p.runner.Run(ctx, executor.RunInput{
		JobID:      jobID,
		Plan:       &execPlan,
		Endpoints:  endpointIndex(jobCtx.Endpoints),
		JobHeaders: jobCtx.Job.DefaultHeaders,
	})

	p.state.AddEndpointCalls(len(results))
	metrics.ObserveResults(results)

	// Partial results (e.g. the completed portion of a plan whose DAG
	// cannot progress) are persisted before the failure is reported.
	if len(results) > 0 {
		if persistErr := store.RetryTransient(ctx, logger, "record endpoint results", func() error {
			return p.store.RecordEndpointResults(ctx, jobID, results)
		}); persistErr != nil {
			return nil, p.fail(ctx, logger, jobID, CodeExecutionError, fmt.Errorf("record endpoint results: %w", persistErr))
		}
	}
	if runErr != nil {
		return nil, p.fail(ctx, logger, jobID, CodeExecutionError, runErr)
	}
	return results, nil
}

func (p *Pipeline) summarize(ctx context.Context, logger *slog.Logger, jobID string, results []models.EndpointExecutionResult) (*models.ExecutionSummary, error) {
	summary := p.buildSummary(ctx, jobID, results)
	if persistErr := store.RetryTransient(ctx, logger, "record execution summary", func() error {
		return p.store.RecordExecutionSummary(ctx, jobID, summary)
	}); persistErr != nil {
		return nil, p.fail(ctx, logger, jobID, CodeExecutionError, fmt.Errorf("record execution summary: %w", persistErr))
	}
	return summary, nil
}

func (p *Pipeline) schedule(ctx context.Context, logger *slog.Logger, jobID string, jobCtx *models.JobContext, results []models.EndpointExecutionResult, summary *models.ExecutionSummary) (*models.ScheduleDecision, error) {
	decision, schedErr := p.scheduler.Schedule(ctx, jobCtx, results, summary)
	p.state.AddAgentCall()
	metrics.ObserveLLMCall(string(p.cfg.AI.Provider), "schedule", schedErr)
	if schedErr != nil {
		return nil, p.fail(ctx, logger, jobID, CodeScheduleError, schedErr)
	}
	if decision.Usage != nil {
		p.accountTokens(ctx, logger, jobID, *decision.Usage)
	}

	if persistErr := store.RetryTransient(ctx, logger, "update job schedule", func() error {
		return p.store.UpdateJobSchedule(ctx, jobID, decision)
	}); persistErr != nil {
		return nil, p.fail(ctx, logger, jobID, CodeScheduleError, fmt.Errorf("update job schedule: %w", persistErr))
	}
	return decision, nil
}

// buildSummary aggregates the cycle's results, maps the failure ratio to an
// escalation level, and applies the recovery action. The ratio counts
// failures over non-aborted attempts so a cancelled run does not escalate.
func (p *Pipeline) buildSummary(ctx context.Context, jobID string, results []models.EndpointExecutionResult) *models.ExecutionSummary {
	var start, end time.Time
	summary := &models.ExecutionSummary{}
	var failedIDs []string
	for _, r := range results {
		if start.IsZero() || r.Timestamp.Before(start) {
			start = r.Timestamp
		}
		if finished := r.Timestamp.Add(time.Duration(r.ExecutionTimeMs) * time.Millisecond); finished.After(end) {
			end = finished
		}
		switch {
		case r.Success:
			summary.SuccessCount++
		case r.Aborted:
			summary.AbortedCount++
		default:
			summary.FailureCount++
			failedIDs = append(failedIDs, r.EndpointID)
		}
	}
	if start.IsZero() {
		start = p.now()
		end = start
	}
	summary.StartTime = start
	summary.EndTime = end
	summary.TotalDurationMs = end.Sub(start).Milliseconds()

	attempts := len(results) - summary.AbortedCount
	ratio := float64(summary.FailureCount) / float64(max(1, attempts))
	switch {
	case ratio >= p.cfg.Execution.CriticalFailureRatio:
		summary.EscalationLevel = models.EscalationCritical
		summary.RecoveryAction = models.RecoveryDisableEndpoint
	case ratio >= p.cfg.Execution.WarnFailureRatio:
		summary.EscalationLevel = models.EscalationWarn
		summary.RecoveryAction = models.RecoveryBackoffOnly
	default:
		summary.EscalationLevel = models.EscalationNone
		summary.RecoveryAction = models.RecoveryNone
	}

	if summary.RecoveryAction == models.RecoveryDisableEndpoint && len(failedIDs) > 0 {
		sort.Strings(failedIDs)
		p.escalations.Disable(jobID, failedIDs)
		summary.DisabledEndpoints = failedIDs
	}

	if p.escalations.Transition(jobID, summary.EscalationLevel) && summary.EscalationLevel != models.EscalationNone {
		p.publishEscalation(ctx, jobID, summary)
	}
	return summary
}

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

// fail records the terminal error and returns the tagged JobError. The
// record writes run on a detached context so a cancelled cycle still leaves
// an audit trail.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, jobID, code string, cause error) *JobError {
	logger.Error("Job cycle failed", "code", code, "error", cause)
	recordCtx := context.WithoutCancel(ctx)
	if recordErr := p.store.RecordJobError(recordCtx, jobID, cause.Error(), code); recordErr != nil {
		logger.Warn("Failed to record job error", "error", recordErr)
	}
	p.updateStatus(recordCtx, logger, jobID, models.ExecutionStatusFailed, cause.Error())
	return &JobError{JobID: jobID, Code: code, Err: cause}
}

// updateStatus reports the live execution status, best-effort.
func (p *Pipeline) updateStatus(ctx context.Context, logger *slog.Logger, jobID string, status models.ExecutionStatus, errMsg string) {
	if err := p.store.UpdateExecutionStatus(ctx, jobID, status, errMsg); err != nil {
		logger.Warn("Failed to update execution status", "status", status, "error", err)
	}
}

// accountTokens folds a usage delta into the engine totals and persists it
// best-effort; a store without the token endpoint only costs a warning.
func (p *Pipeline) accountTokens(ctx context.Context, logger *slog.Logger, jobID string, delta models.TokenUsage) {
	p.state.AddTokens(delta)
	metrics.AddTokens(delta)
	if err := p.store.UpdateJobTokenUsage(ctx, jobID, delta); err != nil {
		logger.Warn("Failed to persist token usage", "error", err)
	}
}

func (p *Pipeline) publishEscalation(ctx context.Context, jobID string, summary *models.ExecutionSummary) {
	if p.publisher == nil {
		return
	}
	payload := events.EscalationPayload{
		JobID:             jobID,
		Level:             string(summary.EscalationLevel),
		FailureCount:      summary.FailureCount,
		AbortedCount:      summary.AbortedCount,
		RecoveryAction:    string(summary.RecoveryAction),
		DisabledEndpoints: summary.DisabledEndpoints,
	}
	if err := p.publisher.PublishEscalation(ctx, payload); err != nil {
		p.logger.Warn("Failed to publish escalation event", "job_id", jobID, "error", err)
	}
}

func endpointIndex(endpoints []models.Endpoint) map[string]models.Endpoint {
	index := make(map[string]models.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		index[ep.ID] = ep
	}
	return index
}
