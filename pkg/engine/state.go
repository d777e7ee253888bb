package engine

import (
	"context"
	"sync"
	"time"

	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/models"
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Stats are the engine's cumulative counters. Token totals never decrease.
type Stats struct {
	JobsProcessed  int64             `json:"jobsProcessed"`
	SuccessfulJobs int64             `json:"successfulJobs"`
	FailedJobs     int64             `json:"failedJobs"`
	EndpointCalls  int64             `json:"endpointCalls"`
	AgentCalls     int64             `json:"agentCalls"`
	TokenUsage     models.TokenUsage `json:"tokenUsage"`
}

// EndpointProgress is the live status of one endpoint in the current cycle.
type EndpointProgress struct {
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// CycleProgress tracks the cycle in flight: job counts plus per-endpoint
// attempt status keyed by endpoint id.
type CycleProgress struct {
	Total     int                         `json:"total"`
	Completed int                         `json:"completed"`
	Endpoints map[string]EndpointProgress `json:"endpoints"`
}

// Snapshot is a point-in-time copy of the engine state for the ops API and
// the status command.
type Snapshot struct {
	Status           Status        `json:"status"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
	StoppedAt        *time.Time    `json:"stoppedAt,omitempty"`
	LastProcessingAt *time.Time    `json:"lastProcessingAt,omitempty"`
	LastError        string        `json:"lastError,omitempty"`
	Stats            Stats         `json:"stats"`
	Progress         CycleProgress `json:"progress"`
}

// State holds the engine's mutable process-wide state. The cycle runner and
// job pipelines mutate it concurrently; every access goes through the mutex.
type State struct {
	mu               sync.Mutex
	status           Status
	startedAt        time.Time
	stoppedAt        time.Time
	lastProcessingAt time.Time
	lastError        string
	stats            Stats
	progress         CycleProgress
}

// NewState returns a stopped state with empty counters.
func NewState() *State {
	return &State{
		status:   StatusStopped,
		progress: CycleProgress{Endpoints: make(map[string]EndpointProgress)},
	}
}

// MarkRunning transitions to running and stamps the start time.
func (s *State) MarkRunning(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusRunning
	s.startedAt = now
	s.stoppedAt = time.Time{}
}

// MarkStopped transitions to stopped and stamps the stop time.
func (s *State) MarkStopped(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusStopped
	s.stoppedAt = now
}

// MarkError records an abnormal loop termination, such as the run context
// dying underneath the engine.
func (s *State) MarkError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	if err != nil {
		s.lastError = err.Error()
	}
}

// Status returns the current lifecycle state.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// BeginCycle resets the per-cycle progress for a new batch of jobs.
func (s *State) BeginCycle(totalJobs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = CycleProgress{
		Total:     totalJobs,
		Endpoints: make(map[string]EndpointProgress),
	}
}

// JobCompleted increments the cycle's completed-job counter.
func (s *State) JobCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Completed++
}

// FinishCycle folds a cycle aggregate into the cumulative counters.
func (s *State) FinishCycle(result *ProcessingResult, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.JobsProcessed += int64(result.JobsProcessed)
	s.stats.SuccessfulJobs += int64(result.SuccessfulJobs)
	s.stats.FailedJobs += int64(result.FailedJobs)
	s.lastProcessingAt = now
}

// RecordCycleError keeps the most recent cycle-level failure for the ops
// surface. It does not change the lifecycle status.
func (s *State) RecordCycleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

// AddEndpointCalls bumps the endpoint invocation counter.
func (s *State) AddEndpointCalls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.EndpointCalls += int64(n)
}

// AddAgentCall bumps the planner/scheduler operation counter.
func (s *State) AddAgentCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.AgentCalls++
}

// AddTokens accumulates model token usage into the engine totals.
func (s *State) AddTokens(delta models.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TokenUsage.Add(delta)
}

// UpdateEndpointProgress records an endpoint attempt transition in the
// per-cycle progress map.
func (s *State) UpdateEndpointProgress(endpointID, status string, attempts int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Endpoints[endpointID] = EndpointProgress{
		Status:      status,
		Attempts:    attempts,
		LastUpdated: now,
	}
}

// Snapshot copies the state for readers outside the engine.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Status:    s.status,
		LastError: s.lastError,
		Stats:     s.stats,
		Progress: CycleProgress{
			Total:     s.progress.Total,
			Completed: s.progress.Completed,
			Endpoints: make(map[string]EndpointProgress, len(s.progress.Endpoints)),
		},
	}
	for id, p := range s.progress.Endpoints {
		snap.Progress.Endpoints[id] = p
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		snap.StoppedAt = &t
	}
	if !s.lastProcessingAt.IsZero() {
		t := s.lastProcessingAt
		snap.LastProcessingAt = &t
	}
	return snap
}

// ────────────────────────────────────────────────────────────
// Progress tee
// ────────────────────────────────────────────────────────────

// progressPublisher mirrors endpoint progress events into the engine state
// before forwarding them to the configured publisher. A nil next publisher
// keeps the state tracking and drops the forward.
type progressPublisher struct {
	next  events.Publisher
	state *State
	now   func() time.Time
}

func (p *progressPublisher) PublishEndpointProgress(ctx context.Context, payload events.EndpointProgressPayload) error {
	p.state.UpdateEndpointProgress(payload.EndpointID, payload.Status, payload.Attempt, p.now())
	if p.next == nil {
		return nil
	}
	return p.next.PublishEndpointProgress(ctx, payload)
}

func (p *progressPublisher) PublishMalformed(ctx context.Context, payload events.MalformedPayload) error {
	if p.next == nil {
		return nil
	}
	return p.next.PublishMalformed(ctx, payload)
}

func (p *progressPublisher) PublishRepairAttempt(ctx context.Context, payload events.RepairAttemptPayload) error {
	if p.next == nil {
		return nil
	}
	return p.next.PublishRepairAttempt(ctx, payload)
}

func (p *progressPublisher) PublishRepairSuccess(ctx context.Context, payload events.RepairOutcomePayload) error {
	if p.next == nil {
		return nil
	}
	return p.next.PublishRepairSuccess(ctx, payload)
}

func (p *progressPublisher) PublishRepairFailure(ctx context.Context, payload events.RepairOutcomePayload) error {
	if p.next == nil {
		return nil
	}
	return p.next.PublishRepairFailure(ctx, payload)
}

func (p *progressPublisher) PublishExecutionProgress(ctx context.Context, payload events.ExecutionProgressPayload) error {
	if p.next == nil {
		return nil
	}
	return p.next.PublishExecutionProgress(ctx, payload)
}

func (p *progressPublisher) PublishEscalation(ctx context.Context, payload events.EscalationPayload) error {
	if p.next == nil {
		return nil
	}
	return p.next.PublishEscalation(ctx, payload)
}
