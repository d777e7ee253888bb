// Package e2e exercises the assembled engine end to end: real pipeline,
// executor, and agents against an in-memory scheduling store, httptest
// endpoint servers, and a scripted language model.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/engine"
	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/models"
)

// TestEngine boots a complete engine instance for e2e testing.
type TestEngine struct {
	Config *config.Config
	Store  *MemoryStore
	Model  *ScriptedModel
	Events *EventRecorder
	Engine *engine.Engine
	Logger *slog.Logger

	publisher *events.AsyncPublisher
	t         *testing.T
}

// testEngineConfig holds options applied by NewTestEngine.
type testEngineConfig struct {
	cfg   *config.Config
	model *ScriptedModel
	jobs  []*models.JobContext
}

// TestEngineOption customizes TestEngine creation.
type TestEngineOption func(*testEngineConfig)

// WithConfig supplies a custom engine configuration.
func WithConfig(cfg *config.Config) TestEngineOption {
	return func(c *testEngineConfig) { c.cfg = cfg }
}

// WithModel injects a pre-scripted language model.
func WithModel(model *ScriptedModel) TestEngineOption {
	return func(c *testEngineConfig) { c.model = model }
}

// WithJob seeds a job into the store before the engine starts.
func WithJob(jobCtx *models.JobContext) TestEngineOption {
	return func(c *testEngineConfig) { c.jobs = append(c.jobs, jobCtx) }
}

// NewTestEngine assembles an engine from test collaborators. Cleanup is
// registered via t.Cleanup automatically.
func NewTestEngine(t *testing.T, opts ...TestEngineOption) *TestEngine {
	t.Helper()

	tc := &testEngineConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = TestConfig()
	}
	if tc.model == nil {
		tc.model = NewScriptedModel()
	}

	// 1. Store seeded with the configured jobs.
	st := NewMemoryStore()
	for _, jobCtx := range tc.jobs {
		st.AddJob(jobCtx)
	}

	// 2. Event capture behind the production async publisher.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := NewEventRecorder()
	publisher := events.NewAsyncPublisher(logger, 0, recorder.Sink())
	t.Cleanup(publisher.Close)

	// 3. Engine assembly, exactly as the start command wires it.
	eng, err := engine.New(engine.Deps{
		Config:    tc.cfg,
		Store:     st,
		Model:     tc.model,
		Publisher: publisher,
		Logger:    logger,
	})
	require.NoError(t, err)

	return &TestEngine{
		Config:    tc.cfg,
		Store:     st,
		Model:     tc.model,
		Events:    recorder,
		Engine:    eng,
		Logger:    logger,
		publisher: publisher,
		t:         t,
	}
}

// RunCycle processes one cycle and requires it to complete without a
// cycle-level error. Per-job failures are reported in the result, not the
// error, so tests assert on them explicitly.
func (te *TestEngine) RunCycle(ctx context.Context) *engine.ProcessingResult {
	te.t.Helper()
	result, err := te.Engine.ProcessCycle(ctx)
	require.NoError(te.t, err)
	return result
}

// DrainEvents flushes the async publisher so every event enqueued so far is
// visible to the recorder. The publisher stays closed; call it only after
// the last cycle of a test.
func (te *TestEngine) DrainEvents() {
	te.publisher.Close()
}

// ────────────────────────────────────────────────────────────
// Event capture
// ────────────────────────────────────────────────────────────

// EventRecorder collects published events for assertions.
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Sink returns the sink to register on the publisher.
func (r *EventRecorder) Sink() events.Sink {
	return func(ev events.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

// All returns every recorded event in delivery order.
func (r *EventRecorder) All() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns recorded events of one type, in delivery order.
func (r *EventRecorder) ByType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────

// TestConfig returns engine defaults tuned for fast tests: short intervals,
// two retry attempts, and no semantic strictness.
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Environment = models.EnvironmentTest
	cfg.Scheduler.ProcessingInterval = 50 * time.Millisecond
	cfg.Scheduler.StaleLockThreshold = time.Minute
	cfg.Scheduler.JobProcessingConcurrency = 2
	cfg.Execution.MaxEndpointRetries = 2
	cfg.Execution.DefaultTimeout = 5 * time.Second
	return cfg
}

// NewJobContext builds an active, due job owning the given endpoints.
func NewJobContext(jobID string, endpoints ...models.Endpoint) *models.JobContext {
	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	return &models.JobContext{
		Job: models.Job{
			ID:         jobID,
			UserID:     "user-e2e",
			Definition: "Check the service endpoints and decide when to run next.",
			Status:     models.JobStatusActive,
			NextRunAt:  &due,
			CreatedAt:  now.Add(-24 * time.Hour),
			UpdatedAt:  now,
		},
		Endpoints: endpoints,
		ExecutionContext: models.ExecutionContext{
			Environment: models.EnvironmentTest,
		},
	}
}

// GetEndpoint builds a GET endpoint owned by the job.
func GetEndpoint(jobID, id, url string) models.Endpoint {
	return models.Endpoint{
		ID:     id,
		JobID:  jobID,
		Name:   id,
		URL:    url,
		Method: http.MethodGet,
	}
}

// PlanOf builds a plan calling the given endpoints with ascending priority.
func PlanOf(strategy models.Strategy, endpointIDs ...string) *models.ExecutionPlan {
	planned := make([]models.PlannedEndpoint, 0, len(endpointIDs))
	for i, id := range endpointIDs {
		planned = append(planned, models.PlannedEndpoint{EndpointID: id, Priority: i + 1})
	}
	return &models.ExecutionPlan{
		EndpointsToCall:   planned,
		ExecutionStrategy: strategy,
		Reasoning:         "scripted plan",
		Confidence:        0.9,
	}
}

// ScheduleIn builds a decision placing the next run d from now.
func ScheduleIn(d time.Duration) *models.ScheduleDecision {
	return &models.ScheduleDecision{
		NextRunAt:  time.Now().Add(d).UTC(),
		Reasoning:  "scripted schedule",
		Confidence: 0.9,
	}
}

// JSONHandler replies to every request with the given status and JSON body.
func JSONHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
