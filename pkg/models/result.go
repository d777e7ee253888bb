package models

import "time"

// EndpointExecutionResult is the terminal outcome of one planned endpoint.
// Every planned endpoint appears at most once in a cycle's result set;
// endpoints never attempted (halted sequential run, blocked DAG descendants)
// are absent.
type EndpointExecutionResult struct {
	EndpointID string `json:"endpointId"`
	Success    bool   `json:"success"`

	// StatusCode is 0 when transport failed before a response arrived
	// (and for fire-and-forget dispatches).
	StatusCode int `json:"statusCode"`

	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Timestamp       time.Time `json:"timestamp"`

	// ResponseContent is the parsed JSON value when the body is JSON,
	// otherwise the (possibly truncated) body text.
	ResponseContent any `json:"responseContent,omitempty"`

	Error string `json:"error,omitempty"`

	// ErrorCategory is the executor classification of the final attempt:
	// timeout, network, http_4xx, http_5xx, aborted, unknown.
	ErrorCategory string `json:"errorCategory,omitempty"`

	RequestSize  int  `json:"requestSize"`
	ResponseSize int  `json:"responseSize"`
	Truncated    bool `json:"truncated,omitempty"`

	// Attempts counts every attempt made, including the successful one.
	Attempts int `json:"attempts"`

	// Aborted marks results cancelled mid-flight by the engine abort signal.
	Aborted bool `json:"aborted,omitempty"`
}
