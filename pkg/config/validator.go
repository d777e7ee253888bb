package config

import (
	"fmt"
	"net/url"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: AI → scheduler → execution → prompt optimization →
	// store → ops → logging. The AI section goes first because a missing
	// credential is the most common misconfiguration.

	if err := v.validateAI(); err != nil {
		return fmt.Errorf("ai validation failed: %w", err)
	}

	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := v.validateExecution(); err != nil {
		return fmt.Errorf("execution validation failed: %w", err)
	}

	if err := v.validatePromptOpt(); err != nil {
		return fmt.Errorf("prompt optimization validation failed: %w", err)
	}

	if err := v.validateStore(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}

	if err := v.validateOps(); err != nil {
		return fmt.Errorf("ops validation failed: %w", err)
	}

	if err := v.validateLogging(); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if v.cfg.Environment != "" && !v.cfg.Environment.IsValid() {
		return NewValidationError("engine", "environment", fmt.Errorf("invalid environment: %s", v.cfg.Environment))
	}

	return nil
}

func (v *ConfigValidator) validateAI() error {
	ai := v.cfg.AI

	if !ai.Provider.IsValid() {
		return NewValidationError("ai", "provider", fmt.Errorf("invalid provider: %s", ai.Provider))
	}

	if ai.Model == "" {
		return NewValidationError("ai", "model", fmt.Errorf("model required"))
	}

	// The credential is resolved during Initialize; an empty key here means
	// the provider's environment variable was never set.
	if ai.APIKey == "" {
		return NewValidationError("ai", "api_key", fmt.Errorf("environment variable %s is not set", ai.Provider.APIKeyEnvVar()))
	}

	if ai.Temperature < 0 || ai.Temperature > 2 {
		return NewValidationError("ai", "temperature", fmt.Errorf("must be between 0 and 2, got %v", ai.Temperature))
	}

	if ai.MaxRetries < 0 {
		return NewValidationError("ai", "max_retries", fmt.Errorf("must not be negative"))
	}

	if ai.MaxOutputTokens < 1 {
		return NewValidationError("ai", "max_output_tokens", fmt.Errorf("must be at least 1"))
	}

	if ai.MaxRepairAttempts < 0 {
		return NewValidationError("ai", "max_repair_attempts", fmt.Errorf("must not be negative"))
	}

	return nil
}

func (v *ConfigValidator) validateScheduler() error {
	s := v.cfg.Scheduler

	if s.MaxBatchSize < 1 {
		return NewValidationError("scheduler", "max_batch_size", fmt.Errorf("must be at least 1"))
	}

	if s.ProcessingInterval <= 0 {
		return NewValidationError("scheduler", "processing_interval_ms", fmt.Errorf("must be positive"))
	}

	if s.IntervalJitter < 0 {
		return NewValidationError("scheduler", "processing_interval_jitter_ms", fmt.Errorf("must not be negative"))
	}

	if s.StaleLockThreshold <= 0 {
		return NewValidationError("scheduler", "stale_lock_threshold_ms", fmt.Errorf("must be positive"))
	}

	if s.JobProcessingConcurrency < 1 {
		return NewValidationError("scheduler", "job_processing_concurrency", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateExecution() error {
	e := v.cfg.Execution

	if e.MaxConcurrency < 1 {
		return NewValidationError("execution", "max_concurrency", fmt.Errorf("must be at least 1"))
	}

	if e.DefaultConcurrencyLimit < 1 {
		return NewValidationError("execution", "default_concurrency_limit", fmt.Errorf("must be at least 1"))
	}

	if e.DefaultTimeout <= 0 {
		return NewValidationError("execution", "default_timeout_ms", fmt.Errorf("must be positive"))
	}

	if e.MaxEndpointRetries < 0 {
		return NewValidationError("execution", "max_endpoint_retries", fmt.Errorf("must not be negative"))
	}

	if e.ResponseContentLengthLimit < 0 {
		return NewValidationError("execution", "response_content_length_limit", fmt.Errorf("must not be negative"))
	}

	if e.WarnFailureRatio < 0 || e.WarnFailureRatio > 1 {
		return NewValidationError("execution", "warn_failure_ratio", fmt.Errorf("must be between 0 and 1, got %v", e.WarnFailureRatio))
	}

	if e.CriticalFailureRatio < 0 || e.CriticalFailureRatio > 1 {
		return NewValidationError("execution", "critical_failure_ratio", fmt.Errorf("must be between 0 and 1, got %v", e.CriticalFailureRatio))
	}

	if e.WarnFailureRatio > e.CriticalFailureRatio {
		return NewValidationError("execution", "warn_failure_ratio", fmt.Errorf("must not exceed critical_failure_ratio (%v > %v)", e.WarnFailureRatio, e.CriticalFailureRatio))
	}

	if e.WarnThresholdAttempt < 0 {
		return NewValidationError("execution", "warn_threshold_attempt", fmt.Errorf("must not be negative"))
	}

	if e.CriticalThresholdAttempt < 0 {
		return NewValidationError("execution", "critical_threshold_attempt", fmt.Errorf("must not be negative"))
	}

	return nil
}

func (v *ConfigValidator) validatePromptOpt() error {
	p := v.cfg.PromptOpt

	if p.MaxMessages < 1 {
		return NewValidationError("prompt_optimization", "max_messages", fmt.Errorf("must be at least 1"))
	}

	if p.MinRecentMessages < 1 {
		return NewValidationError("prompt_optimization", "min_recent_messages", fmt.Errorf("must be at least 1"))
	}

	if p.MinRecentMessages > p.MaxMessages {
		return NewValidationError("prompt_optimization", "min_recent_messages", fmt.Errorf("must not exceed max_messages (%d > %d)", p.MinRecentMessages, p.MaxMessages))
	}

	if p.MaxEndpointUsageEntries < 1 {
		return NewValidationError("prompt_optimization", "max_endpoint_usage_entries", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateStore() error {
	s := v.cfg.Store

	if s.BaseURL == "" {
		return NewValidationError("store", "base_url", fmt.Errorf("base URL required"))
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewValidationError("store", "base_url", fmt.Errorf("invalid URL: %s", s.BaseURL))
	}

	if s.RequestTimeout <= 0 {
		return NewValidationError("store", "request_timeout_ms", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateOps() error {
	o := v.cfg.Ops

	if o.Enabled && o.ListenAddr == "" {
		return NewValidationError("ops", "listen_addr", fmt.Errorf("listen address required when ops server is enabled"))
	}

	return nil
}

func (v *ConfigValidator) validateLogging() error {
	l := v.cfg.Logging

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("logging", "level", fmt.Errorf("invalid level: %s", l.Level))
	}

	if !l.Format.IsValid() {
		return NewValidationError("logging", "format", fmt.Errorf("invalid format: %s", l.Format))
	}

	return nil
}
