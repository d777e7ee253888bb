package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quandohq/quando/pkg/llm"
	"github.com/quandohq/quando/pkg/models"
)

// ModelScriptEntry is one scripted language-model response. Exactly one of
// Plan, Decision, Object, or Err should be set; Object bypasses the typed
// shorthands for deliberately malformed responses.
type ModelScriptEntry struct {
	Plan     *models.ExecutionPlan
	Decision *models.ScheduleDecision
	Object   map[string]any
	Err      error

	// Usage is attached to the response so token accounting can be asserted.
	Usage models.TokenUsage
}

// ScriptedModel implements llm.LanguageModel with per-schema scripts:
// planner calls consume the execution_plan queue and scheduler calls the
// schedule_decision queue, so one cycle's two calls never race for entries.
type ScriptedModel struct {
	mu       sync.Mutex
	scripts  map[string][]ModelScriptEntry
	index    map[string]int
	captured []llm.GenerateRequest
}

// NewScriptedModel creates an empty scripted model.
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{
		scripts: make(map[string][]ModelScriptEntry),
		index:   make(map[string]int),
	}
}

var _ llm.LanguageModel = (*ScriptedModel)(nil)

// AddPlan queues a planner response.
func (m *ScriptedModel) AddPlan(plan *models.ExecutionPlan, usage models.TokenUsage) {
	m.add("execution_plan", ModelScriptEntry{Plan: plan, Usage: usage})
}

// AddPlanEntry queues a raw planner script entry.
func (m *ScriptedModel) AddPlanEntry(entry ModelScriptEntry) {
	m.add("execution_plan", entry)
}

// AddSchedule queues a scheduler response.
func (m *ScriptedModel) AddSchedule(decision *models.ScheduleDecision, usage models.TokenUsage) {
	m.add("schedule_decision", ModelScriptEntry{Decision: decision, Usage: usage})
}

// AddScheduleEntry queues a raw scheduler script entry.
func (m *ScriptedModel) AddScheduleEntry(entry ModelScriptEntry) {
	m.add("schedule_decision", entry)
}

func (m *ScriptedModel) add(schemaName string, entry ModelScriptEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[schemaName] = append(m.scripts[schemaName], entry)
}

// Generate implements llm.LanguageModel.
func (m *ScriptedModel) Generate(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	m.mu.Lock()
	m.captured = append(m.captured, req)
	queue := m.scripts[req.SchemaName]
	i := m.index[req.SchemaName]
	if i >= len(queue) {
		m.mu.Unlock()
		return nil, fmt.Errorf("unscripted %s call #%d", req.SchemaName, i+1)
	}
	m.index[req.SchemaName] = i + 1
	entry := queue[i]
	m.mu.Unlock()

	if entry.Err != nil {
		return nil, entry.Err
	}

	obj := entry.Object
	switch {
	case obj != nil:
	case entry.Plan != nil:
		obj = responseObject(entry.Plan)
	case entry.Decision != nil:
		obj = responseObject(entry.Decision)
	default:
		return nil, fmt.Errorf("empty %s script entry #%d", req.SchemaName, i+1)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal scripted response: %w", err)
	}
	// Normalize to decoded-JSON values, exactly what a provider adapter
	// hands back after parsing the model output.
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode scripted response: %w", err)
	}
	return &llm.GenerateResponse{Object: decoded, RawText: string(raw), Usage: entry.Usage}, nil
}

// Name implements llm.LanguageModel.
func (m *ScriptedModel) Name() string { return "scripted/e2e" }

// CallCount returns how many Generate calls were made.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captured)
}

// Requests returns every captured request in call order.
func (m *ScriptedModel) Requests() []llm.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.GenerateRequest, len(m.captured))
	copy(out, m.captured)
	return out
}

// responseObject round-trips a typed response into the decoded-JSON shape a
// provider adapter would return. The usage field is stripped: it is engine
// accounting, not part of either response schema.
func responseObject(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("e2e: marshal scripted response: %v", err))
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		panic(fmt.Sprintf("e2e: decode scripted response: %v", err))
	}
	delete(obj, "usage")
	return obj
}
