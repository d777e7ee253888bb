package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/llm"
	"github.com/quandohq/quando/pkg/models"
)

// Salvage notes appended to reasoning when semantic checks had to intervene.
const (
	noteSalvage  = "[SemanticSalvage]"
	noteWarnings = "[SemanticWarnings]"
)

// validatePlanSemantics runs the planner's post-schema sanity checks.
// In strict mode any violation raises a semantic_violation error; otherwise
// safely repairable violations are salvaged in place and noted on reasoning.
func validatePlanSemantics(plan *models.ExecutionPlan, cfg *config.AIConfig, now time.Time) error {
	if !cfg.ValidateSemantics {
		return nil
	}
	check := &planCheck{plan: plan, apply: !cfg.SemanticStrict, now: now}
	check.run()
	if len(check.violations) == 0 {
		return nil
	}
	detail := strings.Join(check.violations, "; ")
	if cfg.SemanticStrict {
		return llm.NewError(llm.CategorySemantic, detail)
	}
	note := noteWarnings
	if check.salvaged {
		note = noteSalvage
	}
	plan.Reasoning = appendNote(plan.Reasoning, note, detail)
	return nil
}

// validateScheduleSemantics enforces that the chosen nextRunAt is strictly in
// the future, unless the agent explicitly pauses the job. Salvage moves the
// run one minute out.
func validateScheduleSemantics(decision *models.ScheduleDecision, cfg *config.AIConfig, now time.Time) error {
	if !cfg.ValidateSemantics {
		return nil
	}
	if hasPauseAction(decision) || decision.NextRunAt.After(now) {
		return nil
	}
	const violation = "nextRunAt is a past or current timestamp"
	if cfg.SemanticStrict {
		return llm.NewError(llm.CategorySemantic, violation)
	}
	decision.NextRunAt = now.Add(time.Minute)
	decision.Reasoning = appendNote(decision.Reasoning, noteSalvage, violation)
	return nil
}

func hasPauseAction(decision *models.ScheduleDecision) bool {
	for _, action := range decision.RecommendedActions {
		if action.Type == models.ActionPauseJob {
			return true
		}
	}
	return false
}

func appendNote(reasoning, tag, detail string) string {
	note := tag + " " + detail
	if reasoning == "" {
		return note
	}
	return reasoning + "\n" + note
}

// planCheck accumulates violations across the planner checks. With apply set
// it salvages the plan in place; without it (strict mode) the plan is left
// untouched and the violations surface as an error.
type planCheck struct {
	plan  *models.ExecutionPlan
	apply bool
	now   time.Time

	violations []string
	salvaged   bool
}

func (c *planCheck) run() {
	c.dedupeEndpoints()
	c.checkConcurrency()
	c.dropDanglingDependencies()
	c.breakCycles()
	c.checkPreliminaryNextRun()
}

func (c *planCheck) violate(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

// dedupeEndpoints keeps the first occurrence of each planned endpoint id so
// the result set stays at most one entry per endpoint.
func (c *planCheck) dedupeEndpoints() {
	seen := make(map[string]struct{}, len(c.plan.EndpointsToCall))
	kept := make([]models.PlannedEndpoint, 0, len(c.plan.EndpointsToCall))
	var dups []string
	for _, planned := range c.plan.EndpointsToCall {
		if _, ok := seen[planned.EndpointID]; ok {
			dups = append(dups, planned.EndpointID)
			continue
		}
		seen[planned.EndpointID] = struct{}{}
		kept = append(kept, planned)
	}
	if len(dups) == 0 {
		return
	}
	c.violate("duplicate planned endpoint id(s): %s", strings.Join(uniqueStrings(dups), ", "))
	if c.apply {
		c.plan.EndpointsToCall = kept
		c.salvaged = true
	}
}

// checkConcurrency enforces the parallel-strategy floor. An absent limit is
// fine: the executor falls back to the configured default.
func (c *planCheck) checkConcurrency() {
	if c.plan.ExecutionStrategy != models.StrategyParallel {
		return
	}
	limit := c.plan.ConcurrencyLimit
	if limit == nil || *limit >= 2 {
		return
	}
	c.violate("parallel requires concurrencyLimit >= 2")
	if c.apply {
		two := 2
		c.plan.ConcurrencyLimit = &two
		c.salvaged = true
	}
}

// dropDanglingDependencies removes dependsOn references to ids outside the
// plan.
func (c *planCheck) dropDanglingDependencies() {
	ids := make(map[string]struct{}, len(c.plan.EndpointsToCall))
	for _, planned := range c.plan.EndpointsToCall {
		ids[planned.EndpointID] = struct{}{}
	}

	var dangling []string
	for i := range c.plan.EndpointsToCall {
		planned := &c.plan.EndpointsToCall[i]
		kept := planned.DependsOn[:0:0]
		for _, dep := range planned.DependsOn {
			if _, ok := ids[dep]; !ok {
				dangling = append(dangling, dep)
				continue
			}
			kept = append(kept, dep)
		}
		if c.apply && len(kept) != len(planned.DependsOn) {
			planned.DependsOn = kept
			c.salvaged = true
		}
	}
	if len(dangling) > 0 {
		c.violate("dependsOn references unknown endpoint id(s): %s", strings.Join(uniqueStrings(dangling), ", "))
	}
}

// breakCycles drops dependency edges until a topological order exists. Each
// removed edge is the one the depth-first walk found closing a cycle.
func (c *planCheck) breakCycles() {
	for {
		from, to, found := findCycleEdge(c.plan.EndpointsToCall)
		if !found {
			return
		}
		c.violate("dependency cycle closed by %s -> %s", from, to)
		if !c.apply {
			return
		}
		removeDependency(c.plan.EndpointsToCall, from, to)
		c.salvaged = true
	}
}

// checkPreliminaryNextRun drops the planner's schedule hint when it is not a
// parseable future timestamp.
func (c *planCheck) checkPreliminaryNextRun() {
	hint := c.plan.PreliminaryNextRunAt
	if hint == nil {
		return
	}
	t, err := time.Parse(time.RFC3339, *hint)
	if err == nil && t.After(c.now) {
		return
	}
	c.violate("preliminaryNextRunAt %q is not a parseable future timestamp", *hint)
	if c.apply {
		c.plan.PreliminaryNextRunAt = nil
		c.salvaged = true
	}
}

// findCycleEdge walks the dependency graph depth-first in plan order and
// returns the first edge pointing back into the active path. Dependencies on
// ids outside the plan are ignored (handled as dangling).
func findCycleEdge(planned []models.PlannedEndpoint) (from, to string, found bool) {
	index := make(map[string]int, len(planned))
	for i, p := range planned {
		index[p.EndpointID] = i
	}

	const (
		white = iota
		gray
		black
	)
	state := make([]int, len(planned))

	var visit func(i int) bool
	visit = func(i int) bool {
		state[i] = gray
		for _, dep := range planned[i].DependsOn {
			j, ok := index[dep]
			if !ok {
				continue
			}
			switch state[j] {
			case gray:
				from, to = planned[i].EndpointID, dep
				return true
			case white:
				if visit(j) {
					return true
				}
			}
		}
		state[i] = black
		return false
	}

	for i := range planned {
		if state[i] == white && visit(i) {
			return from, to, true
		}
	}
	return "", "", false
}

func removeDependency(planned []models.PlannedEndpoint, from, to string) {
	for i := range planned {
		if planned[i].EndpointID != from {
			continue
		}
		deps := planned[i].DependsOn[:0:0]
		for _, dep := range planned[i].DependsOn {
			if dep != to {
				deps = append(deps, dep)
			}
		}
		planned[i].DependsOn = deps
		return
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
