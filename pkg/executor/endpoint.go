package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/models"
)

// CallSpec is one resolved endpoint invocation: the endpoint definition plus
// the plan's parameters and header overrides.
type CallSpec struct {
	Endpoint   models.Endpoint
	Parameters map[string]any

	// Headers are the planned per-call overrides, highest precedence.
	Headers map[string]string

	// JobHeaders are the job's defaults, lowest precedence.
	JobHeaders map[string]string
}

// EndpointExecutor performs single HTTP attempts against job endpoints.
// Retry orchestration lives in the strategy runner.
type EndpointExecutor struct {
	client *resty.Client
	cfg    *config.ExecutionConfig
	logger *slog.Logger
}

// NewEndpointExecutor builds an executor sharing one HTTP client across all
// endpoint calls. Per-attempt timeouts come from context deadlines, not the
// client, so the client itself carries no timeout.
func NewEndpointExecutor(cfg *config.ExecutionConfig, logger *slog.Logger) *EndpointExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &EndpointExecutor{
		client: resty.New(),
		cfg:    cfg,
		logger: logger.With("component", "endpoint_executor"),
	}
}

// Execute performs one attempt and returns its terminal result. The result's
// Attempts field is left at zero; the retry loop owns attempt accounting.
//
// Fire-and-forget endpoints dispatch in the background and return an
// immediate synthetic success with status code 0.
func (e *EndpointExecutor) Execute(ctx context.Context, spec CallSpec) models.EndpointExecutionResult {
	endpoint := spec.Endpoint

	if endpoint.FireAndForget {
		return e.dispatchFireAndForget(ctx, spec)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout(endpoint))
	defer cancel()

	start := time.Now()
	resp, requestSize, err := e.doRequest(attemptCtx, spec)
	elapsed := time.Since(start)

	result := models.EndpointExecutionResult{
		EndpointID:      endpoint.ID,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Timestamp:       start.UTC(),
		RequestSize:     requestSize,
	}

	if err != nil {
		category, message := e.classifyAttemptError(ctx, err)
		result.StatusCode = 0
		result.Error = message
		result.ErrorCategory = string(category)
		result.Aborted = category == FailureAborted
		return result
	}

	result.StatusCode = resp.StatusCode()
	e.attachResponse(&result, resp, endpoint.ResponseContentLengthLimit)

	switch {
	case resp.IsSuccess():
		result.Success = true
	case resp.StatusCode() >= 500:
		result.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), responseSnippet(resp))
		result.ErrorCategory = string(FailureHTTP5xx)
	case resp.StatusCode() >= 400:
		result.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), responseSnippet(resp))
		result.ErrorCategory = string(FailureHTTP4xx)
	default:
		// 3xx after resty's redirect handling means the chain ended
		// without a success response.
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode())
		result.ErrorCategory = string(FailureUnknown)
	}
	return result
}

// doRequest builds and fires the HTTP request. It returns the serialized
// request body size for usage accounting.
func (e *EndpointExecutor) doRequest(ctx context.Context, spec CallSpec) (*resty.Response, int, error) {
	endpoint := spec.Endpoint
	method := strings.ToUpper(endpoint.Method)

	req := e.client.R().SetContext(ctx)
	headers := mergeHeaders(spec.JobHeaders, endpoint.DefaultHeaders, spec.Headers)

	requestSize := 0
	if method == http.MethodGet {
		req.SetQueryParams(encodeQueryParameters(spec.Parameters))
	} else if spec.Parameters != nil {
		body, err := json.Marshal(spec.Parameters)
		if err != nil {
			return nil, 0, fmt.Errorf("serialize parameters: %w", err)
		}
		if limit := endpoint.RequestContentLengthLimit; limit > 0 && len(body) > limit {
			return nil, len(body), fmt.Errorf("request body of %d bytes exceeds the %d byte limit", len(body), limit)
		}
		requestSize = len(body)
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
		req.SetBody(body)
	}

	req.SetHeaders(headers)
	if endpoint.BearerToken != "" {
		req.SetAuthToken(endpoint.BearerToken)
	}

	resp, err := req.Execute(method, endpoint.URL)
	return resp, requestSize, err
}

// dispatchFireAndForget fires the request on a background goroutine and
// synthesizes an immediate success. The dispatch keeps the per-endpoint
// timeout but detaches from the job's cancellation.
func (e *EndpointExecutor) dispatchFireAndForget(ctx context.Context, spec CallSpec) models.EndpointExecutionResult {
	// Use a detached context: the caller moves on immediately and may
	// cancel ctx long before the dispatch completes.
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.attemptTimeout(spec.Endpoint))
	go func() {
		defer cancel()
		if _, _, err := e.doRequest(detached, spec); err != nil {
			e.logger.Warn("Fire-and-forget dispatch failed",
				"endpoint_id", spec.Endpoint.ID, "error", err)
		}
	}()

	return models.EndpointExecutionResult{
		EndpointID: spec.Endpoint.ID,
		Success:    true,
		StatusCode: 0,
		Timestamp:  time.Now().UTC(),
	}
}

func (e *EndpointExecutor) attemptTimeout(endpoint models.Endpoint) time.Duration {
	if endpoint.TimeoutMs > 0 {
		return time.Duration(endpoint.TimeoutMs) * time.Millisecond
	}
	return e.cfg.DefaultTimeout
}

// attachResponse retains the response body up to the effective byte limit
// (the endpoint's own limit, else the global default), parsing it as JSON
// when possible.
func (e *EndpointExecutor) attachResponse(result *models.EndpointExecutionResult, resp *resty.Response, endpointLimit int) {
	body := resp.Body()
	result.ResponseSize = len(body)

	limit := endpointLimit
	if limit <= 0 {
		limit = e.cfg.ResponseContentLengthLimit
	}

	retained := body
	if limit > 0 && len(body) > limit {
		retained = body[:limit]
		result.Truncated = true
	}

	text := string(retained)
	if looksLikeJSON(resp.Header().Get("Content-Type"), text) {
		var parsed any
		if err := json.Unmarshal(retained, &parsed); err == nil {
			result.ResponseContent = parsed
			return
		}
	}
	result.ResponseContent = text
}

func looksLikeJSON(contentType, body string) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// classifyAttemptError maps a transport-level failure to the attempt
// taxonomy. A cancelled job context means the engine aborted the run; a
// deadline means the per-attempt timeout fired.
func (e *EndpointExecutor) classifyAttemptError(jobCtx context.Context, err error) (FailureCategory, string) {
	switch {
	case jobCtx.Err() != nil && errors.Is(err, context.Canceled):
		return FailureAborted, "request aborted by engine shutdown"
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return FailureAborted, "request aborted"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout, fmt.Sprintf("request timed out: %v", err)
		}
		return FailureNetwork, fmt.Sprintf("network failure: %v", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FailureNetwork, fmt.Sprintf("network failure: %v", err)
	}
	return FailureUnknown, err.Error()
}

// mergeHeaders layers header maps left to right, later maps winning.
func mergeHeaders(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[http.CanonicalHeaderKey(k)] = v
		}
	}
	return merged
}

// encodeQueryParameters flattens parameters into query string values.
// Scalars use their natural string form; composite values are JSON-encoded.
func encodeQueryParameters(params map[string]any) map[string]string {
	encoded := make(map[string]string, len(params))
	for k, v := range params {
		switch value := v.(type) {
		case string:
			encoded[k] = value
		case bool:
			encoded[k] = strconv.FormatBool(value)
		case float64:
			encoded[k] = strconv.FormatFloat(value, 'f', -1, 64)
		case int:
			encoded[k] = strconv.Itoa(value)
		case int64:
			encoded[k] = strconv.FormatInt(value, 10)
		case nil:
			encoded[k] = ""
		default:
			if data, err := json.Marshal(value); err == nil {
				encoded[k] = string(data)
			} else {
				encoded[k] = fmt.Sprint(value)
			}
		}
	}
	return encoded
}

const maxResponseSnippet = 200

func responseSnippet(resp *resty.Response) string {
	body := strings.TrimSpace(resp.String())
	if body == "" {
		return http.StatusText(resp.StatusCode())
	}
	if len(body) > maxResponseSnippet {
		return body[:maxResponseSnippet] + "..."
	}
	return body
}
