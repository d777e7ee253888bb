package engine

import (
	"sort"
	"sync"

	"github.com/quandohq/quando/pkg/models"
)

// escalationRegistry tracks per-job escalation levels and disabled endpoint
// sets across cycles. Both are process-local: a restart clears them, and in
// a multi-replica deployment each replica escalates independently.
type escalationRegistry struct {
	mu       sync.Mutex
	levels   map[string]models.EscalationLevel
	disabled map[string]map[string]struct{}
}

func newEscalationRegistry() *escalationRegistry {
	return &escalationRegistry{
		levels:   make(map[string]models.EscalationLevel),
		disabled: make(map[string]map[string]struct{}),
	}
}

// FilterPlanned removes endpoints previously disabled for this job. Edges
// in surviving DependsOn lists that point at a removed endpoint are dropped
// with it, so DAG dependents of a disabled endpoint stay runnable.
func (r *escalationRegistry) FilterPlanned(jobID string, planned []models.PlannedEndpoint) ([]models.PlannedEndpoint, []string) {
	r.mu.Lock()
	set := r.disabled[jobID]
	removed := make(map[string]struct{}, len(set))
	for id := range set {
		removed[id] = struct{}{}
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		return planned, nil
	}

	kept := make([]models.PlannedEndpoint, 0, len(planned))
	var removedIDs []string
	for _, p := range planned {
		if _, ok := removed[p.EndpointID]; ok {
			removedIDs = append(removedIDs, p.EndpointID)
			continue
		}
		if len(p.DependsOn) > 0 {
			deps := make([]string, 0, len(p.DependsOn))
			for _, dep := range p.DependsOn {
				if _, ok := removed[dep]; !ok {
					deps = append(deps, dep)
				}
			}
			p.DependsOn = deps
		}
		kept = append(kept, p)
	}
	sort.Strings(removedIDs)
	return kept, removedIDs
}

// Disable adds endpoint ids to the job's disabled set.
func (r *escalationRegistry) Disable(jobID string, endpointIDs []string) {
	if len(endpointIDs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.disabled[jobID]
	if set == nil {
		set = make(map[string]struct{}, len(endpointIDs))
		r.disabled[jobID] = set
	}
	for _, id := range endpointIDs {
		set[id] = struct{}{}
	}
}

// Disabled returns the job's disabled endpoint ids, sorted.
func (r *escalationRegistry) Disabled(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.disabled[jobID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Transition records the job's escalation level and reports whether it
// changed from the previous cycle.
func (r *escalationRegistry) Transition(jobID string, level models.EscalationLevel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.levels[jobID]
	if !ok {
		prev = models.EscalationNone
	}
	r.levels[jobID] = level
	return level != prev
}

// Level returns the job's last recorded escalation level.
func (r *escalationRegistry) Level(jobID string) models.EscalationLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level, ok := r.levels[jobID]; ok {
		return level
	}
	return models.EscalationNone
}
