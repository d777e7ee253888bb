package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Publisher delivers engine events to observers.
//
// Each public method accepts a specific typed payload struct (see
// payloads.go). Implementations must never block the caller: the pipeline
// publishes from hot paths and treats delivery as best-effort.
type Publisher interface {
	PublishMalformed(ctx context.Context, payload MalformedPayload) error
	PublishRepairAttempt(ctx context.Context, payload RepairAttemptPayload) error
	PublishRepairSuccess(ctx context.Context, payload RepairOutcomePayload) error
	PublishRepairFailure(ctx context.Context, payload RepairOutcomePayload) error
	PublishExecutionProgress(ctx context.Context, payload ExecutionProgressPayload) error
	PublishEndpointProgress(ctx context.Context, payload EndpointProgressPayload) error
	PublishEscalation(ctx context.Context, payload EscalationPayload) error
}

// Event is the envelope handed to sinks.
type Event struct {
	Type    string
	Payload any
}

// Sink observes delivered events. Sinks run on the publisher's drain
// goroutine; slow sinks delay delivery but never the pipeline.
type Sink func(Event)

// defaultBuffer is the event channel capacity of AsyncPublisher.
const defaultBuffer = 256

// AsyncPublisher is the default Publisher. Events are buffered on a channel
// and drained by a single goroutine that logs each event and forwards it to
// the registered sinks. When the buffer is full the oldest event is dropped
// so publishing stays non-blocking.
type AsyncPublisher struct {
	logger *slog.Logger
	events chan Event
	sinks  []Sink

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	dropped atomic.Int64
}

// NewAsyncPublisher creates a publisher draining into the given sinks.
// A buffer of 0 or less selects the default capacity.
func NewAsyncPublisher(logger *slog.Logger, buffer int, sinks ...Sink) *AsyncPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	p := &AsyncPublisher{
		logger: logger.With("component", "events"),
		events: make(chan Event, buffer),
		sinks:  sinks,
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Close stops the drain goroutine after flushing buffered events.
func (p *AsyncPublisher) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Dropped returns how many events were discarded due to buffer overflow.
func (p *AsyncPublisher) Dropped() int64 { return p.dropped.Load() }

func (p *AsyncPublisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		case <-p.stopCh:
			// Flush whatever is buffered, then exit.
			for {
				select {
				case ev := <-p.events:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) deliver(ev Event) {
	p.logger.Debug("Event delivered", "type", ev.Type)
	for _, sink := range p.sinks {
		sink(ev)
	}
}

// enqueue adds the event without blocking. On a full buffer it drops the
// oldest buffered event to make room for the newest.
func (p *AsyncPublisher) enqueue(ev Event) {
	select {
	case p.events <- ev:
		return
	default:
	}
	select {
	case <-p.events:
		p.dropped.Add(1)
	default:
	}
	select {
	case p.events <- ev:
	default:
		// Drain goroutine raced us and the buffer filled again; shed the
		// new event rather than block.
		p.dropped.Add(1)
	}
}

func (p *AsyncPublisher) PublishMalformed(_ context.Context, payload MalformedPayload) error {
	payload.Type = EventTypeMalformed
	stampEvent(&payload.EventID, &payload.Timestamp)
	p.enqueue(Event{Type: payload.Type, Payload: payload})
	return nil
}

func (p *AsyncPublisher) PublishRepairAttempt(_ context.Context, payload RepairAttemptPayload) error {
	payload.Type = EventTypeRepairAttempt
	stampEvent(&payload.EventID, &payload.Timestamp)
	p.enqueue(Event{Type: payload.Type, Payload: payload})
	return nil
}

func (p *AsyncPublisher) PublishRepairSuccess(_ context.Context, payload RepairOutcomePayload) error {
	payload.Type = EventTypeRepairSuccess
	stampEvent(&payload.EventID, &payload.Timestamp)
	p.enqueue(Event{Type: payload.Type, Payload: payload})
	return nil
}

func (p *AsyncPublisher) PublishRepairFailure(_ context.Context, payload RepairOutcomePayload) error {
	payload.Type = EventTypeRepairFailure
	stampEvent(&payload.EventID, &payload.Timestamp)
	p.enqueue(Event{Type: payload.Type, Payload: payload})
	return nil
}

func (p *AsyncPublisher) PublishExecutionProgress(_ context.Context, payload ExecutionProgressPayload) error {
	payload.Type = EventTypeExecutionProgress
	stampTimestamp(&payload.Timestamp)
	p.enqueue(Event{Type: payload.Type, Payload: payload})
	return nil
}

func (p *AsyncPublisher) PublishEndpointProgress(_ context.Context, payload EndpointProgressPayload) error {
	payload.Type = EventTypeEndpointProgress
	stampTimestamp(&payload.Timestamp)
	p.enqueue(Event{Type: payload.Type, Payload: payload})
	return nil
}

func (p *AsyncPublisher) PublishEscalation(_ context.Context, payload EscalationPayload) error {
	payload.Type = EventTypeEscalation
	stampTimestamp(&payload.Timestamp)
	p.enqueue(Event{Type: payload.Type, Payload: payload})
	return nil
}

func stampEvent(eventID *string, timestamp *string) {
	if *eventID == "" {
		*eventID = uuid.NewString()
	}
	stampTimestamp(timestamp)
}

func stampTimestamp(timestamp *string) {
	if *timestamp == "" {
		*timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
}
