package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/models"
)

func TestNewStateSnapshot(t *testing.T) {
	snap := NewState().Snapshot()

	assert.Equal(t, StatusStopped, snap.Status)
	assert.Nil(t, snap.StartedAt)
	assert.Nil(t, snap.StoppedAt)
	assert.Nil(t, snap.LastProcessingAt)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, Stats{}, snap.Stats)
	assert.Empty(t, snap.Progress.Endpoints)
}

func TestStateLifecycleTransitions(t *testing.T) {
	state := NewState()
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	stopped := started.Add(time.Hour)

	state.MarkRunning(started)
	assert.Equal(t, StatusRunning, state.Status())
	snap := state.Snapshot()
	require.NotNil(t, snap.StartedAt)
	assert.Equal(t, started, *snap.StartedAt)
	assert.Nil(t, snap.StoppedAt)

	state.MarkStopped(stopped)
	snap = state.Snapshot()
	assert.Equal(t, StatusStopped, snap.Status)
	require.NotNil(t, snap.StoppedAt)
	assert.Equal(t, stopped, *snap.StoppedAt)

	// Restart clears the stop stamp.
	state.MarkRunning(stopped.Add(time.Minute))
	assert.Nil(t, state.Snapshot().StoppedAt)

	state.MarkError(errors.New("run context cancelled"))
	snap = state.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "run context cancelled", snap.LastError)
}

func TestStateCycleAccounting(t *testing.T) {
	state := NewState()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	state.BeginCycle(3)
	state.JobCompleted()
	state.JobCompleted()

	snap := state.Snapshot()
	assert.Equal(t, 3, snap.Progress.Total)
	assert.Equal(t, 2, snap.Progress.Completed)

	state.FinishCycle(&ProcessingResult{JobsProcessed: 3, SuccessfulJobs: 2, FailedJobs: 1}, now)
	state.FinishCycle(&ProcessingResult{JobsProcessed: 1, SuccessfulJobs: 1}, now.Add(time.Minute))

	snap = state.Snapshot()
	assert.Equal(t, int64(4), snap.Stats.JobsProcessed)
	assert.Equal(t, int64(3), snap.Stats.SuccessfulJobs)
	assert.Equal(t, int64(1), snap.Stats.FailedJobs)
	require.NotNil(t, snap.LastProcessingAt)
	assert.Equal(t, now.Add(time.Minute), *snap.LastProcessingAt)

	// A new cycle resets progress but keeps cumulative stats.
	state.BeginCycle(5)
	snap = state.Snapshot()
	assert.Equal(t, 5, snap.Progress.Total)
	assert.Equal(t, 0, snap.Progress.Completed)
	assert.Equal(t, int64(4), snap.Stats.JobsProcessed)
}

func TestStateCounters(t *testing.T) {
	state := NewState()

	state.AddEndpointCalls(3)
	state.AddEndpointCalls(2)
	state.AddAgentCall()
	state.AddTokens(models.TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140})
	state.AddTokens(models.TokenUsage{InputTokens: 50, OutputTokens: 10, TotalTokens: 60, ReasoningTokens: 5})

	stats := state.Snapshot().Stats
	assert.Equal(t, int64(5), stats.EndpointCalls)
	assert.Equal(t, int64(1), stats.AgentCalls)
	assert.Equal(t, int64(150), stats.TokenUsage.InputTokens)
	assert.Equal(t, int64(50), stats.TokenUsage.OutputTokens)
	assert.Equal(t, int64(200), stats.TokenUsage.TotalTokens)
	assert.Equal(t, int64(5), stats.TokenUsage.ReasoningTokens)
}

func TestSnapshotCopiesEndpointProgress(t *testing.T) {
	state := NewState()
	now := time.Now()
	state.UpdateEndpointProgress("health", "retrying", 2, now)

	snap := state.Snapshot()
	require.Contains(t, snap.Progress.Endpoints, "health")
	assert.Equal(t, EndpointProgress{Status: "retrying", Attempts: 2, LastUpdated: now}, snap.Progress.Endpoints["health"])

	// Mutating the snapshot must not leak back into the live state.
	snap.Progress.Endpoints["health"] = EndpointProgress{Status: "failed"}
	assert.Equal(t, "retrying", state.Snapshot().Progress.Endpoints["health"].Status)
}

// ────────────────────────────────────────────────────────────
// Progress tee
// ────────────────────────────────────────────────────────────

func TestProgressPublisherTeesEndpointProgress(t *testing.T) {
	state := NewState()
	next := &recordingPublisher{}
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	pub := &progressPublisher{next: next, state: state, now: func() time.Time { return now }}

	err := pub.PublishEndpointProgress(context.Background(), events.EndpointProgressPayload{
		JobID:      "job-1",
		EndpointID: "health",
		Status:     "succeeded",
		Attempt:    1,
	})
	require.NoError(t, err)

	progress := state.Snapshot().Progress.Endpoints["health"]
	assert.Equal(t, "succeeded", progress.Status)
	assert.Equal(t, 1, progress.Attempts)
	assert.Equal(t, now, progress.LastUpdated)

	require.Len(t, next.endpointProgress, 1)
	assert.Equal(t, "health", next.endpointProgress[0].EndpointID)
}

func TestProgressPublisherWithoutNext(t *testing.T) {
	state := NewState()
	pub := &progressPublisher{next: nil, state: state, now: time.Now}

	require.NoError(t, pub.PublishEndpointProgress(context.Background(), events.EndpointProgressPayload{EndpointID: "health", Status: "started", Attempt: 1}))
	require.NoError(t, pub.PublishEscalation(context.Background(), events.EscalationPayload{JobID: "job-1"}))
	require.NoError(t, pub.PublishMalformed(context.Background(), events.MalformedPayload{}))

	assert.Contains(t, state.Snapshot().Progress.Endpoints, "health")
}

func TestProgressPublisherForwardsOtherEvents(t *testing.T) {
	next := &recordingPublisher{}
	pub := &progressPublisher{next: next, state: NewState(), now: time.Now}

	require.NoError(t, pub.PublishEscalation(context.Background(), events.EscalationPayload{JobID: "job-1", Level: "warn"}))
	require.NoError(t, pub.PublishExecutionProgress(context.Background(), events.ExecutionProgressPayload{JobID: "job-1"}))
	require.NoError(t, pub.PublishMalformed(context.Background(), events.MalformedPayload{JobID: "job-1"}))
	require.NoError(t, pub.PublishRepairAttempt(context.Background(), events.RepairAttemptPayload{JobID: "job-1"}))
	require.NoError(t, pub.PublishRepairSuccess(context.Background(), events.RepairOutcomePayload{JobID: "job-1"}))
	require.NoError(t, pub.PublishRepairFailure(context.Background(), events.RepairOutcomePayload{JobID: "job-1"}))

	assert.Len(t, next.escalations, 1)
	assert.Len(t, next.executionProgress, 1)
	assert.Len(t, next.malformed, 1)
	assert.Len(t, next.repairAttempts, 1)
	assert.Len(t, next.repairSuccesses, 1)
	assert.Len(t, next.repairFailures, 1)
}
