package events

// MalformedPayload is the payload for malformed events.
// Published when a model response fails schema or semantic validation.
type MalformedPayload struct {
	Type       string `json:"type"` // always EventTypeMalformed
	EventID    string `json:"eventId"`
	JobID      string `json:"jobId"`
	Operation  string `json:"operation"` // plan or schedule
	Category   string `json:"category"`  // error category, e.g. schema_parse_error
	Error      string `json:"error"`
	RawSnippet string `json:"rawSnippet,omitempty"` // start of the offending response text
	Timestamp  string `json:"timestamp"`            // RFC3339Nano
}

// RepairAttemptPayload is the payload for repairAttempt events.
// Published immediately before a corrective re-prompt runs.
type RepairAttemptPayload struct {
	Type      string `json:"type"` // always EventTypeRepairAttempt
	EventID   string `json:"eventId"`
	JobID     string `json:"jobId"`
	Operation string `json:"operation"`
	Attempt   int    `json:"attempt"` // 1-based repair attempt counter
	Timestamp string `json:"timestamp"`
}

// RepairOutcomePayload is the payload for repairSuccess and repairFailure
// events, published after the corrective re-prompt loop finishes.
type RepairOutcomePayload struct {
	Type      string `json:"type"` // EventTypeRepairSuccess or EventTypeRepairFailure
	EventID   string `json:"eventId"`
	JobID     string `json:"jobId"`
	Operation string `json:"operation"`
	Attempts  int    `json:"attempts"`        // repair attempts consumed
	Error     string `json:"error,omitempty"` // final error, failures only
	Timestamp string `json:"timestamp"`
}

// ExecutionProgressPayload is the payload for executionProgress events.
// Published as planned endpoints complete within one job cycle.
type ExecutionProgressPayload struct {
	Type      string `json:"type"` // always EventTypeExecutionProgress
	JobID     string `json:"jobId"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Timestamp string `json:"timestamp"`
}

// EndpointProgressPayload is the payload for endpointProgress events.
// Published on every per-endpoint attempt transition.
type EndpointProgressPayload struct {
	Type       string `json:"type"` // always EventTypeEndpointProgress
	JobID      string `json:"jobId"`
	EndpointID string `json:"endpointId"`
	Status     string `json:"status"` // started, retrying, succeeded, failed, skipped
	Attempt    int    `json:"attempt"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// EscalationPayload is the payload for escalation events.
// Published when a job's failure-ratio escalation level transitions.
type EscalationPayload struct {
	Type              string   `json:"type"` // always EventTypeEscalation
	JobID             string   `json:"jobId"`
	Level             string   `json:"level"` // warn or critical
	FailureCount      int      `json:"failureCount"`
	AbortedCount      int      `json:"abortedCount"`
	RecoveryAction    string   `json:"recoveryAction"`
	DisabledEndpoints []string `json:"disabledEndpoints,omitempty"`
	Timestamp         string   `json:"timestamp"`
}
