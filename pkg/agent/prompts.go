package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quandohq/quando/pkg/models"
)

// plannerSystemPrompt frames the planning call. The output schema rides
// separately on the request; the prompt only explains the semantics.
const plannerSystemPrompt = `You are the execution planner of an adaptive job scheduling engine.

Each cycle you receive one job: its natural-language definition, the HTTP endpoints it owns, recent history, and recent endpoint usage. Decide which endpoints to invoke right now, with what parameters and headers, and under what execution strategy.

Rules:
- Reference only endpoint ids from the endpoint catalog.
- "sequential" runs endpoints one at a time, ordered by ascending priority.
- "parallel" runs endpoints concurrently; set concurrencyLimit to 2 or more.
- "mixed" runs a dependency graph: an endpoint waits for every id in its dependsOn list. Dependencies must never form a cycle.
- Mark an endpoint critical only when the rest of the run is pointless after its failure.
- Calling no endpoints is a valid plan when nothing needs to happen this cycle.
- Set preliminaryNextRunAt only when you already know the next run time; the final schedule is decided after execution.

Respond with a single JSON object matching the provided schema. No prose outside the object.`

// schedulerSystemPrompt frames the scheduling call made after execution.
const schedulerSystemPrompt = `You are the scheduling agent of an adaptive job scheduling engine.

A job's cycle just finished. From the job definition, the execution results, and the recent history, decide when the job should run next.

Rules:
- nextRunAt must be an ISO-8601 timestamp strictly in the future.
- Schedule sooner after failures worth re-checking, later when everything is stable.
- Attach recommendedActions when the engine or the user should act (retry_failed_endpoints, pause_job, modify_frequency, notify_user, adjust_timeout).
- Recommending pause_job suspends the job regardless of nextRunAt.

Respond with a single JSON object matching the provided schema. No prose outside the object.`

// plannerTask closes the planner user message.
const plannerTask = `## Your Task
Produce the execution plan for this cycle as a single JSON object.`

// schedulerTask closes the scheduler user message.
const schedulerTask = `## Your Task
Decide nextRunAt for this job and explain the choice as a single JSON object.`

// buildPlannerUserPrompt assembles the planner's user message from the
// trimmed job context.
func buildPlannerUserPrompt(jobCtx *models.JobContext) string {
	var sb strings.Builder
	writeJobSection(&sb, jobCtx)
	writeEndpointCatalog(&sb, jobCtx.Endpoints)
	writeMessageHistory(&sb, jobCtx.Messages)
	writeUsageHistory(&sb, jobCtx.EndpointUsage)
	sb.WriteString(plannerTask)
	return sb.String()
}

// buildSchedulerUserPrompt assembles the scheduler's user message from the
// trimmed context and the cycle's outcome.
func buildSchedulerUserPrompt(jobCtx *models.JobContext, results []models.EndpointExecutionResult, summary *models.ExecutionSummary) string {
	var sb strings.Builder
	writeJobSection(&sb, jobCtx)
	writeResultsSection(&sb, results)
	writeSummarySection(&sb, summary)
	writeMessageHistory(&sb, jobCtx.Messages)
	sb.WriteString(schedulerTask)
	return sb.String()
}

func writeJobSection(sb *strings.Builder, jobCtx *models.JobContext) {
	sb.WriteString("## Job\n")
	fmt.Fprintf(sb, "**Definition:** %s\n", jobCtx.Job.Definition)
	fmt.Fprintf(sb, "**Current time:** %s\n", jobCtx.ExecutionContext.CurrentTime.UTC().Format(time.RFC3339))
	if env := jobCtx.ExecutionContext.Environment; env != "" {
		fmt.Fprintf(sb, "**Environment:** %s\n", env)
	}
	sb.WriteString("\n")
}

func writeEndpointCatalog(sb *strings.Builder, endpoints []models.Endpoint) {
	sb.WriteString("## Available Endpoints\n")
	if len(endpoints) == 0 {
		sb.WriteString("This job owns no endpoints.\n\n")
		return
	}
	for _, ep := range endpoints {
		fmt.Fprintf(sb, "### %s\n", ep.ID)
		if ep.Name != "" {
			fmt.Fprintf(sb, "- Name: %s\n", ep.Name)
		}
		fmt.Fprintf(sb, "- Method: %s\n- URL: %s\n", strings.ToUpper(ep.Method), ep.URL)
		if ep.TimeoutMs > 0 {
			fmt.Fprintf(sb, "- Timeout: %d ms\n", ep.TimeoutMs)
		}
		if ep.FireAndForget {
			sb.WriteString("- Fire-and-forget: the response is not awaited\n")
		}
		if len(ep.RequestSchema) > 0 {
			if data, err := json.Marshal(ep.RequestSchema); err == nil {
				fmt.Fprintf(sb, "- Request schema: %s\n", data)
			}
		}
	}
	sb.WriteString("\n")
}

func writeMessageHistory(sb *strings.Builder, messages []models.Message) {
	sb.WriteString("## Recent Messages\n")
	if len(messages) == 0 {
		sb.WriteString("No history yet.\n\n")
		return
	}
	for _, m := range messages {
		text := m.Content.AsText()
		if m.Source != "" {
			fmt.Fprintf(sb, "- [%s/%s] %s\n", m.Role, m.Source, text)
		} else {
			fmt.Fprintf(sb, "- [%s] %s\n", m.Role, text)
		}
	}
	sb.WriteString("\n")
}

func writeUsageHistory(sb *strings.Builder, usage []models.EndpointUsage) {
	sb.WriteString("## Recent Endpoint Usage\n")
	if len(usage) == 0 {
		sb.WriteString("No endpoint calls recorded yet.\n\n")
		return
	}
	for _, u := range usage {
		outcome := "ok"
		if !u.Success {
			outcome = "failed"
			if u.ErrorMessage != "" {
				outcome = "failed: " + u.ErrorMessage
			}
		}
		fmt.Fprintf(sb, "- %s at %s: HTTP %d, %d ms, %s\n",
			u.EndpointID, u.Timestamp.UTC().Format(time.RFC3339), u.StatusCode, u.ExecutionTimeMs, outcome)
	}
	sb.WriteString("\n")
}

func writeResultsSection(sb *strings.Builder, results []models.EndpointExecutionResult) {
	sb.WriteString("## Execution Results\n")
	if len(results) == 0 {
		sb.WriteString("No endpoints were executed this cycle.\n\n")
		return
	}
	sb.WriteString("```json\n")
	if data, err := json.MarshalIndent(results, "", "  "); err == nil {
		sb.Write(data)
	}
	sb.WriteString("\n```\n\n")
}

func writeSummarySection(sb *strings.Builder, summary *models.ExecutionSummary) {
	if summary == nil {
		return
	}
	sb.WriteString("## Execution Summary\n")
	fmt.Fprintf(sb, "- Succeeded: %d, failed: %d, aborted: %d\n",
		summary.SuccessCount, summary.FailureCount, summary.AbortedCount)
	fmt.Fprintf(sb, "- Total duration: %d ms\n", summary.TotalDurationMs)
	if summary.EscalationLevel != "" && summary.EscalationLevel != models.EscalationNone {
		fmt.Fprintf(sb, "- Escalation: %s (recovery: %s)\n", summary.EscalationLevel, summary.RecoveryAction)
	}
	if len(summary.DisabledEndpoints) > 0 {
		fmt.Fprintf(sb, "- Endpoints disabled for future cycles: %s\n", strings.Join(summary.DisabledEndpoints, ", "))
	}
	sb.WriteString("\n")
}

// rescueRawLimit caps how much of the rejected response text the rescue
// prompt quotes back.
const rescueRawLimit = 2000

// buildRescuePrompt composes the corrective re-prompt after a rejected
// response. It quotes the rejection reason and the offending output, then
// restates the original request.
func buildRescuePrompt(original string, cause error, raw string) string {
	var sb strings.Builder
	sb.WriteString("Your previous response was rejected.\n\n")
	sb.WriteString("## Rejection Reason\n")
	sb.WriteString(cause.Error())
	sb.WriteString("\n\n")
	if raw != "" {
		if len(raw) > rescueRawLimit {
			raw = raw[:rescueRawLimit] + "..."
		}
		sb.WriteString("## Your Previous Response\n```\n")
		sb.WriteString(raw)
		sb.WriteString("\n```\n\n")
	}
	sb.WriteString("## Original Request\n")
	sb.WriteString(original)
	sb.WriteString("\n\nReturn a corrected JSON object that satisfies the schema exactly. Fix only what the rejection reason requires. No prose outside the object.")
	return sb.String()
}
