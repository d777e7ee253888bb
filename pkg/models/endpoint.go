package models

// Endpoint is one HTTP target owned by a job. The planner selects which
// endpoints to invoke each cycle; the executor enforces the per-endpoint
// timeout and byte caps.
type Endpoint struct {
	ID     string `json:"id"`
	JobID  string `json:"jobId"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Method string `json:"method"`

	// BearerToken, when set, is sent as "Authorization: Bearer <token>".
	BearerToken string `json:"bearerToken,omitempty"`

	// RequestSchema optionally documents the expected request body for the
	// planner. The engine never validates outbound bodies against it.
	RequestSchema map[string]any `json:"requestSchema,omitempty"`

	// DefaultHeaders override job defaults and are overridden by plan headers.
	DefaultHeaders map[string]string `json:"defaultHeaders,omitempty"`

	// TimeoutMs bounds a single attempt. Zero falls back to the global default.
	TimeoutMs int `json:"timeoutMs,omitempty"`

	// RequestContentLengthLimit caps the serialized request body in bytes.
	// Zero means unlimited.
	RequestContentLengthLimit int `json:"requestContentLengthLimit,omitempty"`

	// ResponseContentLengthLimit caps how many response bytes are retained.
	// Zero falls back to the global default.
	ResponseContentLengthLimit int `json:"responseContentLengthLimit,omitempty"`

	// FireAndForget dispatches the call without awaiting the response and
	// records an immediate synthetic success with status code 0.
	FireAndForget bool `json:"fireAndForget,omitempty"`
}
