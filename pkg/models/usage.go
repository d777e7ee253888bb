package models

import "time"

// EndpointUsage is a per-execution audit record for one endpoint call.
// The store writes one row per attempt-final result.
type EndpointUsage struct {
	ID              string    `json:"id,omitempty"`
	EndpointID      string    `json:"endpointId"`
	Timestamp       time.Time `json:"timestamp"`
	RequestSize     int       `json:"requestSize"`
	ResponseSize    int       `json:"responseSize"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	StatusCode      int       `json:"statusCode"`
	Success         bool      `json:"success"`
	Truncated       bool      `json:"truncated,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
}
