package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/llm"
	"github.com/quandohq/quando/pkg/models"
)

// Scheduler decides when a job runs next, given what just happened.
type Scheduler struct {
	core
	optimizer *Optimizer
}

// NewScheduler builds a scheduler. The publisher may be nil; repair events
// are then skipped.
func NewScheduler(model llm.LanguageModel, cfg *config.AIConfig, optCfg *config.PromptOptimizationConfig, publisher events.Publisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		core:      newCore(model, cfg, publisher, logger, "scheduler"),
		optimizer: NewOptimizer(optCfg),
	}
}

// Schedule asks the model for the job's next run time based on the cycle's
// results. The decision passed schema and semantic validation and its
// NextRunAt is strictly future unless the agent paused the job.
func (s *Scheduler) Schedule(ctx context.Context, jobCtx *models.JobContext, results []models.EndpointExecutionResult, summary *models.ExecutionSummary) (*models.ScheduleDecision, error) {
	trimmed := s.optimizer.Optimize(jobCtx)
	now := s.referenceTime(trimmed)

	var decision models.ScheduleDecision
	usage, err := s.generate(ctx, generateSpec{
		jobID:     trimmed.Job.ID,
		operation: "schedule",
		system:    schedulerSystemPrompt,
		user:      buildSchedulerUserPrompt(trimmed, results, summary),
		schema:    scheduleSchema,
		accept: func(obj map[string]any) error {
			decision = models.ScheduleDecision{}
			if err := decodeObject(obj, &decision); err != nil {
				return err
			}
			return validateScheduleSemantics(&decision, s.cfg, now)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("schedule generation failed: %w", err)
	}

	if !usage.IsZero() {
		decision.Usage = &usage
	}
	s.logger.Info("Schedule decision generated",
		"job_id", trimmed.Job.ID,
		"next_run_at", decision.NextRunAt,
		"confidence", decision.Confidence)
	return &decision, nil
}
