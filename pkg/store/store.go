// Package store defines the persistence boundary of the engine. The engine
// never owns a database; every read and write goes through a Store
// implementation backed by the scheduling service's REST API.
package store

import (
	"context"
	"time"

	"github.com/quandohq/quando/pkg/models"
)

// Store is the persistence contract the engine processes jobs against.
//
// Implementations must be safe for concurrent use: the engine calls these
// methods from multiple job workers at once.
type Store interface {
	// GetJobsToProcess returns the IDs of jobs due for processing,
	// capped at limit.
	GetJobsToProcess(ctx context.Context, limit int) ([]string, error)

	// LockJob attempts to acquire the processing lease for a job.
	// It returns false when another holder owns the lease; that is a
	// normal outcome, not an error.
	LockJob(ctx context.Context, jobID string, expiresAt time.Time) (bool, error)

	// UnlockJob releases the processing lease for a job.
	UnlockJob(ctx context.Context, jobID string) (bool, error)

	// GetJobContext fetches the full execution context for a job.
	// Returns ErrNotFound when the job does not exist.
	GetJobContext(ctx context.Context, jobID string) (*models.JobContext, error)

	// RecordExecutionPlan persists the plan produced for the current cycle.
	RecordExecutionPlan(ctx context.Context, jobID string, plan *models.ExecutionPlan) error

	// RecordEndpointResults persists the endpoint outcomes of the current cycle.
	RecordEndpointResults(ctx context.Context, jobID string, results []models.EndpointExecutionResult) error

	// RecordExecutionSummary persists the cycle summary.
	RecordExecutionSummary(ctx context.Context, jobID string, summary *models.ExecutionSummary) error

	// UpdateJobSchedule persists the scheduling decision for the next run.
	UpdateJobSchedule(ctx context.Context, jobID string, decision *models.ScheduleDecision) error

	// RecordJobError persists a terminal processing error for the cycle.
	RecordJobError(ctx context.Context, jobID string, message string, code string) error

	// UpdateJobTokenUsage adds the cycle's token consumption to the job's
	// running totals. Callers treat failures as best-effort.
	UpdateJobTokenUsage(ctx context.Context, jobID string, delta models.TokenUsage) error

	// UpdateExecutionStatus records the live execution status of a job.
	// Callers treat failures as best-effort.
	UpdateExecutionStatus(ctx context.Context, jobID string, status models.ExecutionStatus, errMsg string) error

	// GetSchedulerMetrics fetches aggregate job metrics from the
	// scheduling service, for the ops surface.
	GetSchedulerMetrics(ctx context.Context) (map[string]any, error)
}
