// Package config provides validated engine configuration assembled from
// built-in defaults, an optional YAML file, and environment overrides.
package config

import (
	"time"

	"github.com/quandohq/quando/pkg/models"
)

// Config is the root configuration consumed by the engine.
type Config struct {
	AI        *AIConfig                 `yaml:"ai"`
	Scheduler *SchedulerConfig          `yaml:"scheduler"`
	Execution *ExecutionConfig          `yaml:"execution"`
	PromptOpt *PromptOptimizationConfig `yaml:"prompt_optimization"`
	Store     *StoreConfig              `yaml:"store"`
	Ops       *OpsConfig                `yaml:"ops"`
	Logging   *LoggingConfig            `yaml:"logging"`

	// Environment is surfaced to the planner via the execution context.
	Environment models.Environment `yaml:"environment"`
}

// AIConfig controls the language-model boundary and response validation.
type AIConfig struct {
	// Provider selects the model adapter: openai or anthropic.
	Provider Provider `yaml:"provider"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// APIKey comes from OPENAI_API_KEY / ANTHROPIC_API_KEY, never from YAML.
	APIKey string `yaml:"-"`

	// Temperature is the sampling temperature in [0,1] for plan and schedule
	// calls. Repair passes always run at 0.
	Temperature float64 `yaml:"temperature"`

	// MaxRetries is passed to the provider SDK for transport-level retries.
	MaxRetries int `yaml:"max_retries"`

	// MaxOutputTokens caps the structured response size.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// ValidateSemantics enables post-schema plan/schedule sanity checks.
	ValidateSemantics bool `yaml:"validate_semantics"`

	// SemanticStrict raises on any semantic violation instead of salvaging.
	SemanticStrict bool `yaml:"semantic_strict"`

	// RepairMalformedResponses enables the one-shot corrective re-prompt.
	RepairMalformedResponses bool `yaml:"repair_malformed_responses"`

	// MaxRepairAttempts bounds rescue re-prompts per call.
	MaxRepairAttempts int `yaml:"max_repair_attempts"`
}

// SchedulerConfig controls the cycle runner and job leasing.
type SchedulerConfig struct {
	// MaxBatchSize is the number of due jobs fetched per cycle.
	MaxBatchSize int `yaml:"max_batch_size"`

	// ProcessingInterval is the cycle period. A new cycle never starts while
	// the previous one is still running.
	ProcessingInterval time.Duration `yaml:"-"`

	// IntervalJitter is the random offset added to each tick, spreading load
	// across replicas. Zero disables jitter.
	IntervalJitter time.Duration `yaml:"-"`

	// StaleLockThreshold is the lease duration: a crashed pipeline's lock
	// expires after this and the job becomes claimable again.
	StaleLockThreshold time.Duration `yaml:"-"`

	// JobProcessingConcurrency bounds jobs processed in parallel per cycle.
	JobProcessingConcurrency int `yaml:"job_processing_concurrency"`

	// AllowCancellation composes the engine abort signal with per-endpoint
	// timeouts so Stop() terminates in-flight calls.
	AllowCancellation bool `yaml:"allow_cancellation"`
}

// ExecutionConfig controls endpoint execution, retries, and escalation.
type ExecutionConfig struct {
	// MaxConcurrency is the global cap on concurrent endpoint calls per plan,
	// applied over the planner's concurrencyLimit.
	MaxConcurrency int `yaml:"max_concurrency"`

	// DefaultConcurrencyLimit applies when the plan omits concurrencyLimit.
	DefaultConcurrencyLimit int `yaml:"default_concurrency_limit"`

	// DefaultTimeout bounds one endpoint attempt when the endpoint itself
	// does not declare a timeout.
	DefaultTimeout time.Duration `yaml:"-"`

	// MaxEndpointRetries caps attempts per endpoint per cycle.
	MaxEndpointRetries int `yaml:"max_endpoint_retries"`

	// ResponseContentLengthLimit truncates retained response bodies (bytes).
	ResponseContentLengthLimit int `yaml:"response_content_length_limit"`

	// WarnFailureRatio and CriticalFailureRatio map a cycle's failure ratio
	// (failures over non-aborted attempts) to an escalation level.
	WarnFailureRatio     float64 `yaml:"warn_failure_ratio"`
	CriticalFailureRatio float64 `yaml:"critical_failure_ratio"`

	// WarnThresholdAttempt and CriticalThresholdAttempt feed the retry
	// policy's backoff doubling and escalate decision. Zero means unset.
	WarnThresholdAttempt     int `yaml:"warn_threshold_attempt"`
	CriticalThresholdAttempt int `yaml:"critical_threshold_attempt"`
}

// PromptOptimizationConfig controls history trimming for the AI payload.
type PromptOptimizationConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxMessages caps the merged system + recent message list.
	MaxMessages int `yaml:"max_messages"`

	// MinRecentMessages is the floor of non-system messages kept when available.
	MinRecentMessages int `yaml:"min_recent_messages"`

	// MaxEndpointUsageEntries caps the usage history passed to the agent.
	MaxEndpointUsageEntries int `yaml:"max_endpoint_usage_entries"`
}

// StoreConfig locates the scheduler persistence API.
type StoreConfig struct {
	// BaseURL is the collaborator root, e.g. http://localhost:3000/api.
	BaseURL string `yaml:"base_url"`

	// APIToken, when set, is sent as a bearer token on every request.
	APIToken string `yaml:"-"`

	// RequestTimeout bounds one store call.
	RequestTimeout time.Duration `yaml:"-"`
}

// OpsConfig controls the engine's own operational HTTP server.
type OpsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig controls slog handler construction in main.
type LoggingConfig struct {
	Level  string    `yaml:"level"`
	Format LogFormat `yaml:"format"`
}
