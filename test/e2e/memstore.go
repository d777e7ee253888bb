package e2e

import (
	"context"
	"sync"
	"time"

	"github.com/quandohq/quando/pkg/models"
	"github.com/quandohq/quando/pkg/store"
)

// RecordedJobError is one RecordJobError write captured by the store.
type RecordedJobError struct {
	Message string
	Code    string
}

// RecordedStatus is one UpdateExecutionStatus write captured by the store.
type RecordedStatus struct {
	Status models.ExecutionStatus
	Error  string
}

// jobRecord holds one job's context plus everything the engine wrote back.
type jobRecord struct {
	ctx        *models.JobContext
	locked     bool
	lockExpiry time.Time

	lockCount   int
	unlockCount int

	plans      []*models.ExecutionPlan
	resultSets [][]models.EndpointExecutionResult
	summaries  []*models.ExecutionSummary
	decisions  []*models.ScheduleDecision
	statuses   []RecordedStatus
	jobErrors  []RecordedJobError
	tokenUsage models.TokenUsage
}

// MemoryStore is an in-memory store.Store standing in for the scheduling
// service. Leases use the same claim rule as the service: a job is claimable
// when unlocked or when the previous lease expired. Every engine write is
// journaled per job for assertions.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*jobRecord
	order []string
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*jobRecord), now: time.Now}
}

var _ store.Store = (*MemoryStore)(nil)

// AddJob seeds a job the engine can process.
func (s *MemoryStore) AddJob(jobCtx *models.JobContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobCtx.Job.ID] = &jobRecord{ctx: jobCtx}
	s.order = append(s.order, jobCtx.Job.ID)
}

// SeedLock pre-holds a job's lease, as if another replica had claimed it.
// It does not count toward LockCount.
func (s *MemoryStore) SeedLock(jobID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.jobs[jobID]
	rec.locked = true
	rec.lockExpiry = expiresAt
}

// ────────────────────────────────────────────────────────────
// store.Store
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) GetJobsToProcess(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if len(ids) >= limit {
			break
		}
		if s.jobs[id].ctx.Job.Status == models.JobStatusActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) LockJob(_ context.Context, jobID string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	if rec.locked && s.now().Before(rec.lockExpiry) {
		return false, nil
	}
	rec.locked = true
	rec.lockExpiry = expiresAt
	rec.lockCount++
	return true, nil
}

func (s *MemoryStore) UnlockJob(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	was := rec.locked
	rec.locked = false
	rec.unlockCount++
	return was, nil
}

func (s *MemoryStore) GetJobContext(_ context.Context, jobID string) (*models.JobContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Each cycle gets its own top-level value; the pipeline stamps
	// CurrentTime on it.
	cp := *rec.ctx
	return &cp, nil
}

func (s *MemoryStore) RecordExecutionPlan(_ context.Context, jobID string, plan *models.ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *plan
	rec.plans = append(rec.plans, &cp)
	return nil
}

func (s *MemoryStore) RecordEndpointResults(_ context.Context, jobID string, results []models.EndpointExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	cp := make([]models.EndpointExecutionResult, len(results))
	copy(cp, results)
	rec.resultSets = append(rec.resultSets, cp)
	return nil
}

func (s *MemoryStore) RecordExecutionSummary(_ context.Context, jobID string, summary *models.ExecutionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *summary
	rec.summaries = append(rec.summaries, &cp)
	return nil
}

func (s *MemoryStore) UpdateJobSchedule(_ context.Context, jobID string, decision *models.ScheduleDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *decision
	rec.decisions = append(rec.decisions, &cp)
	next := cp.NextRunAt
	rec.ctx.Job.NextRunAt = &next
	return nil
}

func (s *MemoryStore) RecordJobError(_ context.Context, jobID string, message string, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	rec.jobErrors = append(rec.jobErrors, RecordedJobError{Message: message, Code: code})
	return nil
}

func (s *MemoryStore) UpdateJobTokenUsage(_ context.Context, jobID string, delta models.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	rec.tokenUsage.Add(delta)
	rec.ctx.Job.TokenUsage.Add(delta)
	return nil
}

func (s *MemoryStore) UpdateExecutionStatus(_ context.Context, jobID string, status models.ExecutionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	rec.statuses = append(rec.statuses, RecordedStatus{Status: status, Error: errMsg})
	return nil
}

func (s *MemoryStore) GetSchedulerMetrics(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, rec := range s.jobs {
		if rec.ctx.Job.Status == models.JobStatusActive {
			active++
		}
	}
	return map[string]any{"totalJobs": len(s.jobs), "activeJobs": active}, nil
}

// ────────────────────────────────────────────────────────────
// Journal accessors
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) record(jobID string) *jobRecord {
	rec, ok := s.jobs[jobID]
	if !ok {
		panic("e2e: unknown job " + jobID)
	}
	return rec
}

// LockCount returns how many times the engine claimed the job's lease.
func (s *MemoryStore) LockCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(jobID).lockCount
}

// UnlockCount returns how many times the engine released the job's lease.
func (s *MemoryStore) UnlockCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(jobID).unlockCount
}

// Plans returns every recorded execution plan, oldest first.
func (s *MemoryStore) Plans(jobID string) []*models.ExecutionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	out := make([]*models.ExecutionPlan, len(rec.plans))
	copy(out, rec.plans)
	return out
}

// ResultSets returns every recorded result batch, oldest first.
func (s *MemoryStore) ResultSets(jobID string) [][]models.EndpointExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	out := make([][]models.EndpointExecutionResult, len(rec.resultSets))
	copy(out, rec.resultSets)
	return out
}

// Summaries returns every recorded execution summary, oldest first.
func (s *MemoryStore) Summaries(jobID string) []*models.ExecutionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	out := make([]*models.ExecutionSummary, len(rec.summaries))
	copy(out, rec.summaries)
	return out
}

// Decisions returns every recorded schedule decision, oldest first.
func (s *MemoryStore) Decisions(jobID string) []*models.ScheduleDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	out := make([]*models.ScheduleDecision, len(rec.decisions))
	copy(out, rec.decisions)
	return out
}

// Statuses returns every execution status transition, oldest first.
func (s *MemoryStore) Statuses(jobID string) []RecordedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	out := make([]RecordedStatus, len(rec.statuses))
	copy(out, rec.statuses)
	return out
}

// JobErrors returns every recorded terminal error, oldest first.
func (s *MemoryStore) JobErrors(jobID string) []RecordedJobError {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	out := make([]RecordedJobError, len(rec.jobErrors))
	copy(out, rec.jobErrors)
	return out
}

// TokenUsage returns the job's accumulated token totals.
func (s *MemoryStore) TokenUsage(jobID string) models.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(jobID).tokenUsage
}

// NextRunAt returns the job's current scheduled run time, nil when the
// engine never scheduled it.
func (s *MemoryStore) NextRunAt(jobID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(jobID).ctx.Job.NextRunAt
}
