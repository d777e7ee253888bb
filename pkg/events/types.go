// Package events delivers engine observability events to in-process
// observers. Publishing never blocks the processing pipeline: the default
// publisher buffers events on a channel and drops the oldest entry when an
// observer cannot keep up.
//
// Two event families exist:
//
//   - Agent response quality: malformed, repairAttempt, repairSuccess,
//     repairFailure. Fired by the planner and scheduler when a model
//     response fails validation and when the corrective re-prompt runs.
//
//   - Execution lifecycle: executionProgress (per-job completion counts),
//     endpointProgress (per-endpoint attempt transitions), escalation
//     (failure-ratio level transitions with the chosen recovery action).
package events

// Agent response quality events.
const (
	EventTypeMalformed     = "malformed"
	EventTypeRepairAttempt = "repairAttempt"
	EventTypeRepairSuccess = "repairSuccess"
	EventTypeRepairFailure = "repairFailure"
)

// Execution lifecycle events.
const (
	EventTypeExecutionProgress = "executionProgress"
	EventTypeEndpointProgress  = "endpointProgress"
	EventTypeEscalation        = "escalation"
)

// Endpoint progress statuses carried by EndpointProgressPayload.Status.
const (
	EndpointStatusStarted   = "started"
	EndpointStatusRetrying  = "retrying"
	EndpointStatusSucceeded = "succeeded"
	EndpointStatusFailed    = "failed"
	EndpointStatusSkipped   = "skipped"
)
