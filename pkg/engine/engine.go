// Package engine drives adaptive job processing: it leases due jobs, runs
// each through the plan/execute/summarize/schedule pipeline, and aggregates
// cycle results for the ops surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/quandohq/quando/pkg/agent"
	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/executor"
	"github.com/quandohq/quando/pkg/llm"
	"github.com/quandohq/quando/pkg/metrics"
	"github.com/quandohq/quando/pkg/store"
)

var (
	// ErrCycleInProgress is returned when a cycle is already running.
	// Overlapping ticks are skipped, never queued.
	ErrCycleInProgress = errors.New("processing cycle already in progress")

	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine already running")
)

// ProcessingError is one terminal job failure inside a cycle aggregate.
type ProcessingError struct {
	JobID   string `json:"jobId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProcessingResult aggregates one processing cycle. Jobs skipped over lock
// contention or a vanished context count as processed but neither
// successful nor failed.
type ProcessingResult struct {
	JobsProcessed  int               `json:"jobsProcessed"`
	SuccessfulJobs int               `json:"successfulJobs"`
	FailedJobs     int               `json:"failedJobs"`
	StartTime      time.Time         `json:"startTime"`
	EndTime        time.Time         `json:"endTime"`
	DurationMs     int64             `json:"durationMs"`
	Errors         []ProcessingError `json:"errors"`
}

// Deps are the collaborators an engine is assembled from.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Model     llm.LanguageModel
	Publisher events.Publisher
	Logger    *slog.Logger
}

// jobProcessor is the per-job pipeline as the cycle loop consumes it.
type jobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) (processed bool, err error)
}

// Engine owns the processing loop. One engine instance processes cycles
// single-flight; within a cycle, jobs fan out up to the configured
// concurrency.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	pipeline jobProcessor
	state    *State
	logger   *slog.Logger
	now      func() time.Time

	cycleMu sync.Mutex

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	abort       context.CancelFunc
	loopDone    chan struct{}
}

// New assembles the engine: agents, endpoint executor, pipeline, and state.
// The given publisher is wrapped so endpoint progress events also feed the
// state snapshot served by the ops API.
func New(deps Deps) (*Engine, error) {
	if deps.Config == nil {
		return nil, errors.New("engine requires a config")
	}
	if deps.Store == nil {
		return nil, errors.New("engine requires a store")
	}
	if deps.Model == nil {
		return nil, errors.New("engine requires a language model")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := deps.Config
	state := NewState()
	publisher := &progressPublisher{next: deps.Publisher, state: state, now: time.Now}

	endpointExec := executor.NewEndpointExecutor(cfg.Execution, logger)
	policy := executor.RetryPolicy{
		MaxAttempts:              cfg.Execution.MaxEndpointRetries,
		WarnThresholdAttempt:     cfg.Execution.WarnThresholdAttempt,
		CriticalThresholdAttempt: cfg.Execution.CriticalThresholdAttempt,
	}

	return &Engine{
		cfg:   cfg,
		store: deps.Store,
		state: state,
		pipeline: &Pipeline{
			store:       deps.Store,
			planner:     agent.NewPlanner(deps.Model, cfg.AI, cfg.PromptOpt, publisher, logger),
			scheduler:   agent.NewScheduler(deps.Model, cfg.AI, cfg.PromptOpt, publisher, logger),
			runner:      executor.NewStrategyRunner(endpointExec, policy, cfg.Execution, publisher, logger),
			escalations: newEscalationRegistry(),
			state:       state,
			publisher:   publisher,
			cfg:         cfg,
			logger:      logger.With("component", "pipeline"),
			now:         time.Now,
		},
		logger: logger.With("component", "engine"),
		now:    time.Now,
	}, nil
}

// State exposes the live engine state for the ops API and CLI.
func (e *Engine) State() *State { return e.state }

// ────────────────────────────────────────────────────────────
// Cycle processing
// ────────────────────────────────────────────────────────────

// ProcessCycle fetches due jobs and processes the batch. It returns
// ErrCycleInProgress when called while another cycle is still running.
func (e *Engine) ProcessCycle(ctx context.Context) (*ProcessingResult, error) {
	if !e.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer e.cycleMu.Unlock()

	start := e.now()
	var jobIDs []string
	err := store.RetryTransient(ctx, e.logger, "get jobs to process", func() error {
		var fetchErr error
		jobIDs, fetchErr = e.store.GetJobsToProcess(ctx, e.cfg.Scheduler.MaxBatchSize)
		return fetchErr
	})
	if err != nil {
		e.state.RecordCycleError(err)
		return nil, fmt.Errorf("fetch due jobs: %w", err)
	}

	e.state.BeginCycle(len(jobIDs))
	result := &ProcessingResult{
		JobsProcessed: len(jobIDs),
		StartTime:     start,
		Errors:        []ProcessingError{},
	}

	concurrency := e.cfg.Scheduler.JobProcessingConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, jobID := range jobIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(jobID string) {
			defer wg.Done()
			defer func() { <-sem }()

			processed, jobErr := e.runJob(ctx, jobID)
			e.state.JobCompleted()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case jobErr != nil:
				result.FailedJobs++
				result.Errors = append(result.Errors, processingError(jobID, jobErr))
				metrics.JobsTotal.WithLabelValues("failed").Inc()
			case processed:
				result.SuccessfulJobs++
				metrics.JobsTotal.WithLabelValues("succeeded").Inc()
			default:
				metrics.JobsTotal.WithLabelValues("skipped").Inc()
			}
		}(jobID)
	}
	wg.Wait()

	end := e.now()
	result.EndTime = end
	result.DurationMs = end.Sub(start).Milliseconds()
	e.state.FinishCycle(result, end)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(end.Sub(start).Seconds())

	e.logger.Info("Processing cycle completed",
		"jobs", result.JobsProcessed,
		"succeeded", result.SuccessfulJobs,
		"failed", result.FailedJobs,
		"duration_ms", result.DurationMs)
	return result, nil
}

// runJob executes one pipeline, converting panics into unknown_error
// failures so a misbehaving job cannot take the whole cycle down.
func (e *Engine) runJob(ctx context.Context, jobID string) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Job pipeline panicked", "job_id", jobID, "panic", r)
			err = &JobError{JobID: jobID, Code: CodeUnknownError, Err: fmt.Errorf("pipeline panic: %v", r)}
		}
	}()
	return e.pipeline.ProcessJob(ctx, jobID)
}

func processingError(jobID string, err error) ProcessingError {
	pe := ProcessingError{JobID: jobID, Code: CodeUnknownError, Message: err.Error()}
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		pe.Code = jobErr.Code
	}
	return pe
}

// ────────────────────────────────────────────────────────────
// Lifecycle
// ────────────────────────────────────────────────────────────

// Start launches the processing loop: an immediate first cycle, then one
// per interval (plus jitter). It returns ErrAlreadyRunning on a running
// engine.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if e.loopDone != nil {
		return ErrAlreadyRunning
	}

	runCtx, abort := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	done := make(chan struct{})
	e.stopCh = stopCh
	e.abort = abort
	e.loopDone = done

	e.state.MarkRunning(e.now())
	e.logger.Info("Engine started",
		"interval", e.cfg.Scheduler.ProcessingInterval,
		"batch_size", e.cfg.Scheduler.MaxBatchSize,
		"job_concurrency", e.cfg.Scheduler.JobProcessingConcurrency)
	go e.loop(runCtx, stopCh, done)
	return nil
}

// Stop halts the loop. The in-flight cycle drains unless AllowCancellation
// is set, in which case its context is cancelled and interrupted endpoints
// finish as aborted. Stop blocks until the loop exits or ctx expires.
// Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycleMu.Lock()
	if e.loopDone == nil {
		e.lifecycleMu.Unlock()
		return nil
	}
	done := e.loopDone
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
		if e.cfg.Scheduler.AllowCancellation {
			e.abort()
			e.logger.Info("Engine stopping, cancelling in-flight work")
		} else {
			e.logger.Info("Engine stopping, draining current cycle")
		}
	}
	e.lifecycleMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("engine drain interrupted: %w", ctx.Err())
	}

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if e.loopDone == done {
		e.abort()
		e.abort = nil
		e.loopDone = nil
		e.state.MarkStopped(e.now())
		e.logger.Info("Engine stopped")
	}
	return nil
}

func (e *Engine) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	e.runCycle(ctx)

	ticker := time.NewTicker(e.tickDelay())
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			// The run context died without Stop; the loop cannot continue.
			select {
			case <-stopCh:
			default:
				e.state.MarkError(ctx.Err())
				e.logger.Error("Engine loop terminated", "error", ctx.Err())
			}
			return
		case <-ticker.C:
			e.runCycle(ctx)
			if e.cfg.Scheduler.IntervalJitter > 0 {
				ticker.Reset(e.tickDelay())
			}
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := e.ProcessCycle(ctx)
	if err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			e.logger.Debug("Previous cycle still running, skipping tick")
			return
		}
		e.logger.Error("Processing cycle failed", "error", err)
		return
	}
	if result.FailedJobs > 0 {
		e.logger.Warn("Cycle finished with failed jobs",
			"failed", result.FailedJobs, "jobs", result.JobsProcessed)
	}
}

// tickDelay is the processing interval plus up to IntervalJitter of random
// spread, so replicas sharing a store do not tick in lockstep.
func (e *Engine) tickDelay() time.Duration {
	delay := e.cfg.Scheduler.ProcessingInterval
	if jitter := e.cfg.Scheduler.IntervalJitter; jitter > 0 {
		delay += rand.N(jitter)
	}
	return delay
}
