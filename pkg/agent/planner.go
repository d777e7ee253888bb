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

// Planner produces the execution plan for one job cycle.
type Planner struct {
	core
	optimizer *Optimizer
}

// NewPlanner builds a planner. The publisher may be nil; repair events are
// then skipped.
func NewPlanner(model llm.LanguageModel, cfg *config.AIConfig, optCfg *config.PromptOptimizationConfig, publisher events.Publisher, logger *slog.Logger) *Planner {
	return &Planner{
		core:      newCore(model, cfg, publisher, logger, "planner"),
		optimizer: NewOptimizer(optCfg),
	}
}

// Plan asks the model which endpoints to invoke this cycle. The returned
// plan passed schema and semantic validation; its Usage field carries the
// token cost of every attempt, including repair passes.
func (p *Planner) Plan(ctx context.Context, jobCtx *models.JobContext) (*models.ExecutionPlan, error) {
	trimmed := p.optimizer.Optimize(jobCtx)
	now := p.referenceTime(trimmed)

	var plan models.ExecutionPlan
	usage, err := p.generate(ctx, generateSpec{
		jobID:     trimmed.Job.ID,
		operation: "plan",
		system:    plannerSystemPrompt,
		user:      buildPlannerUserPrompt(trimmed),
		schema:    planSchema,
		accept: func(obj map[string]any) error {
			plan = models.ExecutionPlan{}
			if err := decodeObject(obj, &plan); err != nil {
				return err
			}
			return validatePlanSemantics(&plan, p.cfg, now)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	if !usage.IsZero() {
		plan.Usage = &usage
	}
	p.logger.Info("Execution plan generated",
		"job_id", trimmed.Job.ID,
		"strategy", plan.ExecutionStrategy,
		"endpoints", len(plan.EndpointsToCall),
		"confidence", plan.Confidence)
	return &plan, nil
}
