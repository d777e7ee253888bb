package store

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/models"
)

// RESTStore implements Store against the scheduling service's REST API.
type RESTStore struct {
	client *resty.Client
}

// NewRESTStore creates a store backed by the REST collaborator described
// by cfg.
func NewRESTStore(cfg *config.StoreConfig) *RESTStore {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json")
	if cfg.APIToken != "" {
		client.SetAuthToken(cfg.APIToken)
	}
	return &RESTStore{client: client}
}

// Request/response bodies for the collaborator routes. All field names
// follow the service's camelCase JSON convention.

type jobsToProcessResponse struct {
	JobIDs []string `json:"jobIds"`
}

type lockRequest struct {
	JobID     string    `json:"jobId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type unlockRequest struct {
	JobID string `json:"jobId"`
}

type recordPlanRequest struct {
	JobID string                `json:"jobId"`
	Plan  *models.ExecutionPlan `json:"plan"`
}

type recordResultsRequest struct {
	JobID   string                           `json:"jobId"`
	Results []models.EndpointExecutionResult `json:"results"`
}

type recordSummaryRequest struct {
	JobID   string                   `json:"jobId"`
	Summary *models.ExecutionSummary `json:"summary"`
}

type updateScheduleRequest struct {
	JobID    string                   `json:"jobId"`
	Decision *models.ScheduleDecision `json:"decision"`
}

type recordErrorRequest struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type tokenUsageRequest struct {
	JobID string            `json:"jobId"`
	Usage models.TokenUsage `json:"usage"`
}

type executionStatusRequest struct {
	JobID  string                 `json:"jobId"`
	Status models.ExecutionStatus `json:"status"`
	Error  string                 `json:"error,omitempty"`
}

func (s *RESTStore) GetJobsToProcess(ctx context.Context, limit int) ([]string, error) {
	var out jobsToProcessResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		Get("/scheduler/jobs-to-process")
	if err := s.check("get jobs to process", resp, err); err != nil {
		return nil, err
	}
	return out.JobIDs, nil
}

func (s *RESTStore) LockJob(ctx context.Context, jobID string, expiresAt time.Time) (bool, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(lockRequest{JobID: jobID, ExpiresAt: expiresAt}).
		Post("/scheduler/jobs/lock")
	if err == nil && resp.StatusCode() == http.StatusConflict {
		// Another holder owns the lease.
		return false, nil
	}
	if err := s.check("lock job", resp, err); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RESTStore) UnlockJob(ctx context.Context, jobID string) (bool, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(unlockRequest{JobID: jobID}).
		Post("/scheduler/jobs/unlock")
	if err := s.check("unlock job", resp, err); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RESTStore) GetJobContext(ctx context.Context, jobID string) (*models.JobContext, error) {
	var out models.JobContext
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/scheduler/jobs/%s/context", jobID))
	if err := s.check("get job context", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RESTStore) RecordExecutionPlan(ctx context.Context, jobID string, plan *models.ExecutionPlan) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(recordPlanRequest{JobID: jobID, Plan: plan}).
		Post("/scheduler/jobs/execution-plan")
	return s.check("record execution plan", resp, err)
}

func (s *RESTStore) RecordEndpointResults(ctx context.Context, jobID string, results []models.EndpointExecutionResult) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(recordResultsRequest{JobID: jobID, Results: results}).
		Post("/scheduler/jobs/endpoint-results")
	return s.check("record endpoint results", resp, err)
}

func (s *RESTStore) RecordExecutionSummary(ctx context.Context, jobID string, summary *models.ExecutionSummary) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(recordSummaryRequest{JobID: jobID, Summary: summary}).
		Post("/scheduler/jobs/execution-summary")
	return s.check("record execution summary", resp, err)
}

func (s *RESTStore) UpdateJobSchedule(ctx context.Context, jobID string, decision *models.ScheduleDecision) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(updateScheduleRequest{JobID: jobID, Decision: decision}).
		Post("/scheduler/jobs/schedule")
	return s.check("update job schedule", resp, err)
}

func (s *RESTStore) RecordJobError(ctx context.Context, jobID string, message string, code string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(recordErrorRequest{JobID: jobID, Message: message, Code: code}).
		Post("/scheduler/jobs/error")
	return s.check("record job error", resp, err)
}

func (s *RESTStore) UpdateJobTokenUsage(ctx context.Context, jobID string, delta models.TokenUsage) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(tokenUsageRequest{JobID: jobID, Usage: delta}).
		Post("/scheduler/jobs/token-usage")
	return s.check("update job token usage", resp, err)
}

func (s *RESTStore) UpdateExecutionStatus(ctx context.Context, jobID string, status models.ExecutionStatus, errMsg string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(executionStatusRequest{JobID: jobID, Status: status, Error: errMsg}).
		Post("/scheduler/jobs/execution-status")
	return s.check("update execution status", resp, err)
}

func (s *RESTStore) GetSchedulerMetrics(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/scheduler/metrics")
	if err := s.check("get scheduler metrics", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// check maps a resty response to the store error taxonomy. Transport
// failures, timeouts, 408, 429, and 5xx are transient; 404 maps to
// ErrNotFound; every other non-2xx is fatal.
func (s *RESTStore) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	code := resp.StatusCode()
	switch {
	case resp.IsSuccess():
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("status %d: %s", code, bodySnippet(resp))}
	default:
		return &FatalError{Op: op, Err: fmt.Errorf("status %d: %s", code, bodySnippet(resp))}
	}
}

const maxErrorSnippet = 200

func bodySnippet(resp *resty.Response) string {
	body := strings.TrimSpace(resp.String())
	if body == "" {
		return http.StatusText(resp.StatusCode())
	}
	if len(body) > maxErrorSnippet {
		return body[:maxErrorSnippet] + "..."
	}
	return body
}
