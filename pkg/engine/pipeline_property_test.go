package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/quandohq/quando/pkg/executor"
	"github.com/quandohq/quando/pkg/models"
	"github.com/quandohq/quando/pkg/store"
)

// stageFault selects where an injected failure strikes a pipeline run.
type stageFault int

const (
	faultNone stageFault = iota
	faultLockDenied
	faultLockError
	faultContextMissing
	faultContextError
	faultPlanner
	faultPlanPersist
	faultRunner
	faultScheduler
	faultSchedulePersist
	faultStatusPersist
)

func genStageFault() gopter.Gen {
	return gen.OneConstOf(
		faultNone, faultLockDenied, faultLockError, faultContextMissing,
		faultContextError, faultPlanner, faultPlanPersist, faultRunner,
		faultScheduler, faultSchedulePersist, faultStatusPersist,
	)
}

// faultedRun wires a pipeline that fails at the drawn stage and counts lock
// grants, unlock calls, and planner invocations.
type faultedRun struct {
	granted  int
	unlocked int
	planned  int
}

func runWithFault(fault stageFault, usage *models.TokenUsage) (*faultedRun, *Pipeline) {
	counts := &faultedRun{}
	st := &fakeStore{}

	st.lockJob = func(string, time.Time) (bool, error) {
		switch fault {
		case faultLockDenied:
			return false, nil
		case faultLockError:
			return false, fmt.Errorf("lock backend down")
		default:
			counts.granted++
			return true, nil
		}
	}
	st.unlockJob = func(string) (bool, error) {
		counts.unlocked++
		return true, nil
	}
	st.getJobContext = func(string) (*models.JobContext, error) {
		switch fault {
		case faultContextMissing:
			return nil, store.ErrNotFound
		case faultContextError:
			return nil, &store.FatalError{Op: "get job context", Err: fmt.Errorf("boom")}
		default:
			return pipelineJobContext(), nil
		}
	}
	st.recordPlan = func(string, *models.ExecutionPlan) error {
		if fault == faultPlanPersist {
			return &store.FatalError{Op: "record execution plan", Err: fmt.Errorf("rejected")}
		}
		return nil
	}
	st.updateSchedule = func(string, *models.ScheduleDecision) error {
		if fault == faultSchedulePersist {
			return &store.FatalError{Op: "update job schedule", Err: fmt.Errorf("rejected")}
		}
		return nil
	}
	st.updateStatus = func(string, models.ExecutionStatus, string) error {
		if fault == faultStatusPersist {
			return fmt.Errorf("status endpoint down")
		}
		return nil
	}

	planner := &fakePlanner{plan: func(*models.JobContext) (*models.ExecutionPlan, error) {
		counts.planned++
		if fault == faultPlanner {
			return nil, fmt.Errorf("model produced garbage")
		}
		return pipelinePlan(usage), nil
	}}
	scheduler := &fakeScheduler{schedule: func(*models.JobContext, []models.EndpointExecutionResult, *models.ExecutionSummary) (*models.ScheduleDecision, error) {
		if fault == faultScheduler {
			return nil, fmt.Errorf("model refused to schedule")
		}
		return pipelineDecision(usage), nil
	}}
	runner := &fakeRunner{run: func(executor.RunInput) ([]models.EndpointExecutionResult, error) {
		if fault == faultRunner {
			return nil, fmt.Errorf("circular dependency detected among endpoints: health")
		}
		return successResults(), nil
	}}

	pipeline, _ := newTestPipeline(st, planner, scheduler, runner)
	return counts, pipeline
}

func TestLockPairingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("every granted lease is released exactly once", prop.ForAll(
		func(fault stageFault) bool {
			counts, pipeline := runWithFault(fault, nil)
			_, _ = pipeline.ProcessJob(context.Background(), "job-1")
			return counts.unlocked == counts.granted
		},
		genStageFault(),
	))

	properties.Property("the planner never runs more than once per lease", prop.ForAll(
		func(fault stageFault) bool {
			counts, pipeline := runWithFault(fault, nil)
			_, _ = pipeline.ProcessJob(context.Background(), "job-1")
			return counts.planned <= counts.granted
		},
		genStageFault(),
	))

	properties.TestingRun(t)
}

func tokensAdvance(prev, next models.TokenUsage) bool {
	return next.InputTokens >= prev.InputTokens &&
		next.OutputTokens >= prev.OutputTokens &&
		next.TotalTokens >= prev.TotalTokens &&
		next.ReasoningTokens >= prev.ReasoningTokens &&
		next.CachedInputTokens >= prev.CachedInputTokens
}

func TestTokenCounterMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	genCycle := gopter.CombineGens(
		genStageFault(),
		gen.Int64Range(0, 5000), // input tokens
		gen.Int64Range(0, 2000), // output tokens
	)

	properties.Property("engine token totals never decrease across runs", prop.ForAll(
		func(cycles [][]interface{}) bool {
			// One shared state observed across every run, like one engine
			// processing many jobs over time.
			state := NewState()
			prev := state.Snapshot().Stats.TokenUsage

			for _, vals := range cycles {
				fault := vals[0].(stageFault)
				in := vals[1].(int64)
				out := vals[2].(int64)

				usage := &models.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
				_, pipeline := runWithFault(fault, usage)
				pipeline.state = state

				_, _ = pipeline.ProcessJob(context.Background(), "job-1")

				current := state.Snapshot().Stats.TokenUsage
				if !tokensAdvance(prev, current) {
					return false
				}
				prev = current
			}
			return true
		},
		gen.SliceOf(genCycle),
	))

	properties.TestingRun(t)
}

// contendedStore is a shared lock table: LockJob is an atomic test-and-set,
// so two pipelines racing for the same job cannot both win a live lease.
type contendedStore struct {
	fakeStore
	mu   sync.Mutex
	held map[string]bool
}

func newContendedStore() *contendedStore {
	cs := &contendedStore{held: make(map[string]bool)}
	cs.fakeStore.lockJob = func(jobID string, _ time.Time) (bool, error) {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.held[jobID] {
			return false, nil
		}
		cs.held[jobID] = true
		return true, nil
	}
	cs.fakeStore.unlockJob = func(jobID string) (bool, error) {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		was := cs.held[jobID]
		cs.held[jobID] = false
		return was, nil
	}
	return cs
}

func TestLeasingExclusivityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("a job never runs in two pipelines at once", prop.ForAll(
		func(jobCount int, holdMicros int) bool {
			cs := newContendedStore()

			// inFlight tracks concurrent planner entries per job; any overlap
			// is a leasing violation.
			var mu sync.Mutex
			inFlight := make(map[string]int)
			violated := false

			makePipeline := func() *Pipeline {
				planner := &fakePlanner{plan: func(jobCtx *models.JobContext) (*models.ExecutionPlan, error) {
					id := jobCtx.Job.ID
					mu.Lock()
					inFlight[id]++
					if inFlight[id] > 1 {
						violated = true
					}
					mu.Unlock()

					time.Sleep(time.Duration(holdMicros) * time.Microsecond)

					mu.Lock()
					inFlight[id]--
					mu.Unlock()
					return pipelinePlan(nil), nil
				}}
				pipeline, _ := newTestPipeline(&cs.fakeStore, planner, nil, nil)
				return pipeline
			}

			jobIDs := make([]string, jobCount)
			for i := range jobIDs {
				jobIDs[i] = fmt.Sprintf("job-%d", i)
			}
			cs.fakeStore.getJobContext = func(jobID string) (*models.JobContext, error) {
				jobCtx := pipelineJobContext()
				jobCtx.Job.ID = jobID
				return jobCtx, nil
			}

			first, second := makePipeline(), makePipeline()
			var wg sync.WaitGroup
			for _, p := range []*Pipeline{first, second} {
				wg.Add(1)
				go func(p *Pipeline) {
					defer wg.Done()
					for _, id := range jobIDs {
						_, _ = p.ProcessJob(context.Background(), id)
					}
				}(p)
			}
			wg.Wait()

			return !violated
		},
		gen.IntRange(1, 4),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
