package agent

import "github.com/quandohq/quando/pkg/llm"

// planSchemaDoc is the structured-output contract for the planner. The
// parameters object is deliberately free-form: the model shapes it to each
// endpoint's request schema.
const planSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["endpointsToCall", "executionStrategy", "reasoning", "confidence"],
  "properties": {
    "endpointsToCall": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["endpointId", "priority", "critical"],
        "properties": {
          "endpointId": {"type": "string", "minLength": 1},
          "parameters": {"type": "object"},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}},
          "priority": {"type": "integer"},
          "dependsOn": {"type": "array", "items": {"type": "string"}},
          "critical": {"type": "boolean"}
        }
      }
    },
    "executionStrategy": {"type": "string", "enum": ["sequential", "parallel", "mixed"]},
    "concurrencyLimit": {"type": "integer", "minimum": 1},
    "preliminaryNextRunAt": {"type": "string"},
    "reasoning": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

// scheduleSchemaDoc is the structured-output contract for the scheduler.
const scheduleSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["nextRunAt", "reasoning", "confidence"],
  "properties": {
    "nextRunAt": {"type": "string", "minLength": 1},
    "reasoning": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "recommendedActions": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["type", "details", "priority"],
        "properties": {
          "type": {
            "type": "string",
            "enum": ["retry_failed_endpoints", "pause_job", "modify_frequency", "notify_user", "adjust_timeout"]
          },
          "details": {"type": "string"},
          "priority": {"type": "string", "enum": ["low", "medium", "high"]}
        }
      }
    }
  }
}`

var (
	planSchema     = llm.MustCompileSchema("execution_plan", []byte(planSchemaDoc))
	scheduleSchema = llm.MustCompileSchema("schedule_decision", []byte(scheduleSchemaDoc))
)
