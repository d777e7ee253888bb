package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a Sink that records delivered events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) sink(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestAsyncPublisherDeliversTypedEvents(t *testing.T) {
	col := &collector{}
	p := NewAsyncPublisher(nil, 16, col.sink)

	require.NoError(t, p.PublishMalformed(context.Background(), MalformedPayload{
		JobID:     "job-1",
		Operation: "plan",
		Category:  "schema_parse_error",
		Error:     "missing strategy",
	}))
	require.NoError(t, p.PublishEscalation(context.Background(), EscalationPayload{
		JobID:          "job-1",
		Level:          "critical",
		FailureCount:   3,
		RecoveryAction: "DISABLE_ENDPOINT",
	}))
	p.Close()

	events := col.snapshot()
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeMalformed, events[0].Type)
	malformed, ok := events[0].Payload.(MalformedPayload)
	require.True(t, ok)
	assert.Equal(t, EventTypeMalformed, malformed.Type)
	assert.Equal(t, "job-1", malformed.JobID)
	assert.NotEmpty(t, malformed.EventID)
	assert.NotEmpty(t, malformed.Timestamp)
	_, err := time.Parse(time.RFC3339Nano, malformed.Timestamp)
	assert.NoError(t, err)

	assert.Equal(t, EventTypeEscalation, events[1].Type)
	escalation, ok := events[1].Payload.(EscalationPayload)
	require.True(t, ok)
	assert.Equal(t, "critical", escalation.Level)
	assert.Equal(t, 3, escalation.FailureCount)
}

func TestAsyncPublisherDropsOldestOnOverflow(t *testing.T) {
	// A blocked sink keeps the drain goroutine busy so the buffer fills.
	release := make(chan struct{})
	var drained []Event
	blocking := func(ev Event) {
		<-release
		drained = append(drained, ev)
	}

	p := NewAsyncPublisher(nil, 2, blocking)

	// First event occupies the drain goroutine; the next ones contend for
	// the 2-slot buffer.
	for i := 0; i < 6; i++ {
		require.NoError(t, p.PublishExecutionProgress(context.Background(), ExecutionProgressPayload{
			JobID:     "job-1",
			Total:     6,
			Completed: i,
		}))
	}

	close(release)
	p.Close()

	// Publishing never blocked and at least the newest events survived.
	assert.NotEmpty(t, drained)
	assert.Greater(t, p.Dropped(), int64(0))
	last, ok := drained[len(drained)-1].Payload.(ExecutionProgressPayload)
	require.True(t, ok)
	assert.Equal(t, 5, last.Completed)
}

func TestAsyncPublisherCloseFlushesBuffer(t *testing.T) {
	col := &collector{}
	p := NewAsyncPublisher(nil, 32, col.sink)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.PublishEndpointProgress(context.Background(), EndpointProgressPayload{
			JobID:      "job-1",
			EndpointID: "ep-1",
			Status:     EndpointStatusSucceeded,
			Attempt:    1,
		}))
	}
	p.Close()

	assert.Len(t, col.snapshot(), 10)
	assert.Zero(t, p.Dropped())
}
