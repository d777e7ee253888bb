// Package agent implements the engine's two AI calls: the planner, which
// turns a job's context into an execution plan, and the scheduler, which
// turns an execution outcome into the job's next run time. Both share one
// structured-output core that validates responses against a JSON schema,
// applies semantic checks with salvage, and re-prompts a bounded number of
// times when a response is repairably malformed.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/llm"
	"github.com/quandohq/quando/pkg/models"
)

// core is the shared structured-output loop under the planner and scheduler.
type core struct {
	model     llm.LanguageModel
	cfg       *config.AIConfig
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func newCore(model llm.LanguageModel, cfg *config.AIConfig, publisher events.Publisher, logger *slog.Logger, component string) core {
	if logger == nil {
		logger = slog.Default()
	}
	return core{
		model:     model,
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With("component", component),
		now:       time.Now,
	}
}

// generateSpec describes one structured-output call.
type generateSpec struct {
	jobID     string
	operation string // "plan" or "schedule"
	system    string
	user      string
	schema    *llm.SchemaValidator

	// accept decodes the schema-valid object into the caller's value and
	// runs semantic checks. It is called once per attempt; a repairable
	// error triggers the rescue loop.
	accept func(obj map[string]any) error
}

// generate runs the model call with validation and bounded repair. Token
// usage is accumulated across every attempt, including failed ones, so the
// caller can account for the full cost of the operation.
func (c *core) generate(ctx context.Context, spec generateSpec) (models.TokenUsage, error) {
	var usage models.TokenUsage
	user := spec.user
	temperature := c.cfg.Temperature
	repairs := 0

	for {
		resp, err := c.model.Generate(ctx, llm.GenerateRequest{
			System:      spec.system,
			User:        user,
			SchemaName:  spec.schema.Name(),
			Schema:      spec.schema.Raw(),
			Temperature: temperature,
		})
		var raw string
		if resp != nil {
			usage.Add(resp.Usage)
			raw = resp.RawText
		}
		if err == nil {
			err = spec.schema.Validate(resp.Object)
		}
		if err == nil {
			err = spec.accept(resp.Object)
		}
		if err == nil {
			if repairs > 0 {
				c.logger.Info("Malformed response repaired",
					"job_id", spec.jobID, "operation", spec.operation, "repair_attempts", repairs)
				c.publishRepairOutcome(ctx, spec, events.EventTypeRepairSuccess, repairs, nil)
			}
			return usage, nil
		}

		category := llm.CategoryOf(err)
		c.logger.Warn("Language model response rejected",
			"job_id", spec.jobID, "operation", spec.operation, "category", category, "error", err)
		if llm.Repairable(err) {
			// Only content failures are malformed responses; transport and
			// auth errors never produced a response to describe.
			c.publishMalformed(ctx, spec, category, err, raw)
		}

		if !c.repairable(err) {
			if repairs > 0 {
				c.publishRepairOutcome(ctx, spec, events.EventTypeRepairFailure, repairs, err)
			}
			return usage, err
		}
		if repairs >= c.cfg.MaxRepairAttempts {
			c.publishRepairOutcome(ctx, spec, events.EventTypeRepairFailure, repairs, err)
			return usage, err
		}

		repairs++
		c.publishRepairAttempt(ctx, spec, repairs)
		c.logger.Info("Re-prompting with corrective instructions",
			"job_id", spec.jobID, "operation", spec.operation, "repair_attempt", repairs)

		// Rescue passes quote the failure and run deterministically.
		user = buildRescuePrompt(spec.user, err, raw)
		temperature = 0
	}
}

func (c *core) repairable(err error) bool {
	return c.cfg.RepairMalformedResponses && c.cfg.MaxRepairAttempts > 0 && llm.Repairable(err)
}

// referenceTime anchors semantic timestamp checks to the cycle's stamped
// current time so validation and prompts agree on "now".
func (c *core) referenceTime(jobCtx *models.JobContext) time.Time {
	if t := jobCtx.ExecutionContext.CurrentTime; !t.IsZero() {
		return t
	}
	return c.now()
}

// decodeObject round-trips a schema-valid object into a typed value.
func decodeObject(obj map[string]any, out any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return llm.WrapError(llm.CategorySchemaParse, "re-encode response object", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return llm.WrapError(llm.CategorySchemaParse, "decode response object", err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────
// Event helpers (best-effort, nil-safe)
// ────────────────────────────────────────────────────────────

func (c *core) publishMalformed(ctx context.Context, spec generateSpec, category llm.ErrorCategory, cause error, raw string) {
	if c.publisher == nil {
		return
	}
	payload := events.MalformedPayload{
		JobID:      spec.jobID,
		Operation:  spec.operation,
		Category:   string(category),
		Error:      cause.Error(),
		RawSnippet: rawSnippet(raw),
	}
	if err := c.publisher.PublishMalformed(ctx, payload); err != nil {
		c.logger.Warn("Failed to publish malformed event", "job_id", spec.jobID, "error", err)
	}
}

func (c *core) publishRepairAttempt(ctx context.Context, spec generateSpec, attempt int) {
	if c.publisher == nil {
		return
	}
	payload := events.RepairAttemptPayload{
		JobID:     spec.jobID,
		Operation: spec.operation,
		Attempt:   attempt,
	}
	if err := c.publisher.PublishRepairAttempt(ctx, payload); err != nil {
		c.logger.Warn("Failed to publish repair attempt event", "job_id", spec.jobID, "error", err)
	}
}

func (c *core) publishRepairOutcome(ctx context.Context, spec generateSpec, eventType string, attempts int, cause error) {
	if c.publisher == nil {
		return
	}
	payload := events.RepairOutcomePayload{
		JobID:     spec.jobID,
		Operation: spec.operation,
		Attempts:  attempts,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	var err error
	if eventType == events.EventTypeRepairSuccess {
		err = c.publisher.PublishRepairSuccess(ctx, payload)
	} else {
		err = c.publisher.PublishRepairFailure(ctx, payload)
	}
	if err != nil {
		c.logger.Warn("Failed to publish repair outcome event", "job_id", spec.jobID, "error", err)
	}
}

// rawSnippet caps response text carried on events.
func rawSnippet(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
