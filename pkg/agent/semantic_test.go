package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/llm"
	"github.com/quandohq/quando/pkg/models"
)

func salvageConfig() *config.AIConfig {
	return &config.AIConfig{ValidateSemantics: true, SemanticStrict: false}
}

func strictConfig() *config.AIConfig {
	return &config.AIConfig{ValidateSemantics: true, SemanticStrict: true}
}

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func planOf(endpoints ...models.PlannedEndpoint) *models.ExecutionPlan {
	return &models.ExecutionPlan{
		EndpointsToCall:   endpoints,
		ExecutionStrategy: models.StrategySequential,
		Reasoning:         "routine check",
		Confidence:        0.9,
	}
}

func TestValidatePlanSemanticsCleanPlanUntouched(t *testing.T) {
	now := time.Now()
	plan := planOf(
		models.PlannedEndpoint{EndpointID: "health", Priority: 1},
		models.PlannedEndpoint{EndpointID: "report", Priority: 2, DependsOn: []string{"health"}},
	)
	plan.ExecutionStrategy = models.StrategyMixed
	plan.PreliminaryNextRunAt = strPtr(now.Add(time.Hour).Format(time.RFC3339))

	require.NoError(t, validatePlanSemantics(plan, salvageConfig(), now))

	assert.Equal(t, "routine check", plan.Reasoning, "no salvage note on a clean plan")
	assert.Len(t, plan.EndpointsToCall, 2)
	assert.NotNil(t, plan.PreliminaryNextRunAt)

	// Running the checks again changes nothing further.
	require.NoError(t, validatePlanSemantics(plan, salvageConfig(), now))
	assert.Equal(t, "routine check", plan.Reasoning)
}

func TestValidatePlanSemanticsDisabled(t *testing.T) {
	plan := planOf(
		models.PlannedEndpoint{EndpointID: "a", DependsOn: []string{"a"}},
		models.PlannedEndpoint{EndpointID: "a"},
	)
	cfg := &config.AIConfig{ValidateSemantics: false, SemanticStrict: true}

	require.NoError(t, validatePlanSemantics(plan, cfg, time.Now()))
	assert.Len(t, plan.EndpointsToCall, 2, "checks skipped entirely")
}

func TestValidatePlanSemanticsDeduplicatesEndpoints(t *testing.T) {
	plan := planOf(
		models.PlannedEndpoint{EndpointID: "health", Priority: 1},
		models.PlannedEndpoint{EndpointID: "health", Priority: 9},
		models.PlannedEndpoint{EndpointID: "report", Priority: 2},
	)

	require.NoError(t, validatePlanSemantics(plan, salvageConfig(), time.Now()))

	require.Len(t, plan.EndpointsToCall, 2)
	assert.Equal(t, "health", plan.EndpointsToCall[0].EndpointID)
	assert.Equal(t, 1, plan.EndpointsToCall[0].Priority, "first occurrence wins")
	assert.Equal(t, "report", plan.EndpointsToCall[1].EndpointID)
	assert.Contains(t, plan.Reasoning, noteSalvage)
	assert.Contains(t, plan.Reasoning, "duplicate planned endpoint id(s): health")
}

func TestValidatePlanSemanticsParallelConcurrencyFloor(t *testing.T) {
	t.Run("limit below two is raised to two", func(t *testing.T) {
		plan := planOf(models.PlannedEndpoint{EndpointID: "a"}, models.PlannedEndpoint{EndpointID: "b"})
		plan.ExecutionStrategy = models.StrategyParallel
		plan.ConcurrencyLimit = intPtr(1)

		require.NoError(t, validatePlanSemantics(plan, salvageConfig(), time.Now()))

		require.NotNil(t, plan.ConcurrencyLimit)
		assert.Equal(t, 2, *plan.ConcurrencyLimit)
		assert.Contains(t, plan.Reasoning, "parallel requires concurrencyLimit >= 2")
	})

	t.Run("strict mode rejects instead of salvaging", func(t *testing.T) {
		plan := planOf(models.PlannedEndpoint{EndpointID: "a"})
		plan.ExecutionStrategy = models.StrategyParallel
		plan.ConcurrencyLimit = intPtr(1)

		err := validatePlanSemantics(plan, strictConfig(), time.Now())
		require.Error(t, err)
		assert.Equal(t, llm.CategorySemantic, llm.CategoryOf(err))
		assert.Equal(t, 1, *plan.ConcurrencyLimit, "strict mode leaves the plan untouched")
		assert.Equal(t, "routine check", plan.Reasoning)
	})

	t.Run("absent limit falls back to the default", func(t *testing.T) {
		plan := planOf(models.PlannedEndpoint{EndpointID: "a"})
		plan.ExecutionStrategy = models.StrategyParallel

		require.NoError(t, validatePlanSemantics(plan, strictConfig(), time.Now()))
		assert.Nil(t, plan.ConcurrencyLimit)
	})

	t.Run("sequential ignores the limit", func(t *testing.T) {
		plan := planOf(models.PlannedEndpoint{EndpointID: "a"})
		plan.ConcurrencyLimit = intPtr(1)

		require.NoError(t, validatePlanSemantics(plan, strictConfig(), time.Now()))
	})
}

func TestValidatePlanSemanticsDropsDanglingDependencies(t *testing.T) {
	plan := planOf(
		models.PlannedEndpoint{EndpointID: "fetch"},
		models.PlannedEndpoint{EndpointID: "publish", DependsOn: []string{"fetch", "ghost"}},
	)
	plan.ExecutionStrategy = models.StrategyMixed

	require.NoError(t, validatePlanSemantics(plan, salvageConfig(), time.Now()))

	assert.Equal(t, []string{"fetch"}, plan.EndpointsToCall[1].DependsOn)
	assert.Contains(t, plan.Reasoning, "unknown endpoint id(s): ghost")
}

func TestValidatePlanSemanticsBreaksDependencyCycles(t *testing.T) {
	t.Run("two node cycle", func(t *testing.T) {
		plan := planOf(
			models.PlannedEndpoint{EndpointID: "a", DependsOn: []string{"b"}},
			models.PlannedEndpoint{EndpointID: "b", DependsOn: []string{"a"}},
		)
		plan.ExecutionStrategy = models.StrategyMixed

		require.NoError(t, validatePlanSemantics(plan, salvageConfig(), time.Now()))

		_, _, found := findCycleEdge(plan.EndpointsToCall)
		assert.False(t, found, "salvaged plan is acyclic")
		assert.Contains(t, plan.Reasoning, "dependency cycle closed by")
	})

	t.Run("self dependency", func(t *testing.T) {
		plan := planOf(models.PlannedEndpoint{EndpointID: "a", DependsOn: []string{"a"}})
		plan.ExecutionStrategy = models.StrategyMixed

		require.NoError(t, validatePlanSemantics(plan, salvageConfig(), time.Now()))

		assert.Empty(t, plan.EndpointsToCall[0].DependsOn)
	})

	t.Run("strict mode reports the cycle", func(t *testing.T) {
		plan := planOf(
			models.PlannedEndpoint{EndpointID: "a", DependsOn: []string{"b"}},
			models.PlannedEndpoint{EndpointID: "b", DependsOn: []string{"a"}},
		)
		plan.ExecutionStrategy = models.StrategyMixed

		err := validatePlanSemantics(plan, strictConfig(), time.Now())
		require.Error(t, err)
		assert.Equal(t, llm.CategorySemantic, llm.CategoryOf(err))
		assert.Equal(t, []string{"b"}, plan.EndpointsToCall[0].DependsOn, "plan not mutated")
	})
}

func TestValidatePlanSemanticsPreliminaryNextRun(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		hint string
		kept bool
	}{
		{name: "future timestamp kept", hint: now.Add(2 * time.Hour).Format(time.RFC3339), kept: true},
		{name: "past timestamp dropped", hint: now.Add(-time.Hour).Format(time.RFC3339), kept: false},
		{name: "unparseable hint dropped", hint: "tomorrow-ish", kept: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := planOf(models.PlannedEndpoint{EndpointID: "a"})
			plan.PreliminaryNextRunAt = strPtr(tc.hint)

			require.NoError(t, validatePlanSemantics(plan, salvageConfig(), now))

			if tc.kept {
				require.NotNil(t, plan.PreliminaryNextRunAt)
				assert.Equal(t, tc.hint, *plan.PreliminaryNextRunAt)
			} else {
				assert.Nil(t, plan.PreliminaryNextRunAt)
				assert.Contains(t, plan.Reasoning, "not a parseable future timestamp")
			}
		})
	}
}

func TestValidateScheduleSemantics(t *testing.T) {
	now := time.Now()

	t.Run("future next run passes", func(t *testing.T) {
		decision := &models.ScheduleDecision{NextRunAt: now.Add(time.Hour), Reasoning: "hourly"}
		require.NoError(t, validateScheduleSemantics(decision, strictConfig(), now))
		assert.Equal(t, now.Add(time.Hour), decision.NextRunAt)
	})

	t.Run("past next run is salvaged a minute out", func(t *testing.T) {
		decision := &models.ScheduleDecision{NextRunAt: now.Add(-time.Minute), Reasoning: "hourly"}
		require.NoError(t, validateScheduleSemantics(decision, salvageConfig(), now))
		assert.Equal(t, now.Add(time.Minute), decision.NextRunAt)
		assert.Contains(t, decision.Reasoning, noteSalvage)
	})

	t.Run("past next run fails strict mode", func(t *testing.T) {
		decision := &models.ScheduleDecision{NextRunAt: now.Add(-time.Minute)}
		err := validateScheduleSemantics(decision, strictConfig(), now)
		require.Error(t, err)
		assert.Equal(t, llm.CategorySemantic, llm.CategoryOf(err))
	})

	t.Run("pause action exempts the future requirement", func(t *testing.T) {
		decision := &models.ScheduleDecision{
			NextRunAt: now.Add(-time.Hour),
			RecommendedActions: []models.RecommendedAction{
				{Type: models.ActionPauseJob, Details: "endpoint keeps failing", Priority: models.ActionPriorityHigh},
			},
		}
		require.NoError(t, validateScheduleSemantics(decision, strictConfig(), now))
		assert.Equal(t, now.Add(-time.Hour), decision.NextRunAt, "timestamp left for the pause handler")
	})

	t.Run("disabled validation passes anything", func(t *testing.T) {
		decision := &models.ScheduleDecision{NextRunAt: now.Add(-time.Hour)}
		cfg := &config.AIConfig{ValidateSemantics: false, SemanticStrict: true}
		require.NoError(t, validateScheduleSemantics(decision, cfg, now))
	})
}
