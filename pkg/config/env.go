package config

import (
	"os"
	"strconv"
	"time"

	"github.com/quandohq/quando/pkg/models"
)

// applyEnvOverrides folds environment variables onto the configuration.
// Unset or empty variables are ignored; malformed values are an error so a
// typo'd deployment fails at startup instead of running with defaults.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.AI.Provider = Provider(v)
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("SCHEDULER_API_URL"); v != "" {
		cfg.Store.BaseURL = v
	}
	if v := os.Getenv("SYSTEM_ENVIRONMENT"); v != "" {
		cfg.Environment = models.Environment(v)
	}
	if v := os.Getenv("OPS_LISTEN_ADDR"); v != "" {
		cfg.Ops.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = LogFormat(v)
	}

	intVars := []struct {
		dst *int
		key string
	}{
		{&cfg.AI.MaxRetries, "AI_MAX_RETRIES"},
		{&cfg.AI.MaxOutputTokens, "AI_MAX_OUTPUT_TOKENS"},
		{&cfg.AI.MaxRepairAttempts, "MAX_REPAIR_ATTEMPTS"},
		{&cfg.Scheduler.MaxBatchSize, "MAX_BATCH_SIZE"},
		{&cfg.Scheduler.JobProcessingConcurrency, "JOB_PROCESSING_CONCURRENCY"},
		{&cfg.Execution.MaxConcurrency, "MAX_CONCURRENCY"},
		{&cfg.Execution.DefaultConcurrencyLimit, "DEFAULT_CONCURRENCY_LIMIT"},
		{&cfg.Execution.MaxEndpointRetries, "MAX_ENDPOINT_RETRIES"},
		{&cfg.Execution.ResponseContentLengthLimit, "RESPONSE_CONTENT_LENGTH_LIMIT"},
		{&cfg.Execution.WarnThresholdAttempt, "WARN_THRESHOLD_ATTEMPT"},
		{&cfg.Execution.CriticalThresholdAttempt, "CRITICAL_THRESHOLD_ATTEMPT"},
		{&cfg.PromptOpt.MaxMessages, "PROMPT_OPT_MAX_MESSAGES"},
		{&cfg.PromptOpt.MinRecentMessages, "PROMPT_OPT_MIN_RECENT"},
		{&cfg.PromptOpt.MaxEndpointUsageEntries, "PROMPT_OPT_MAX_USAGE"},
	}
	for _, v := range intVars {
		if err := setEnvInt(v.dst, v.key); err != nil {
			return err
		}
	}

	floatVars := []struct {
		dst *float64
		key string
	}{
		{&cfg.AI.Temperature, "AI_TEMPERATURE"},
		{&cfg.Execution.WarnFailureRatio, "WARN_FAILURE_RATIO"},
		{&cfg.Execution.CriticalFailureRatio, "CRITICAL_FAILURE_RATIO"},
	}
	for _, v := range floatVars {
		if err := setEnvFloat(v.dst, v.key); err != nil {
			return err
		}
	}

	boolVars := []struct {
		dst *bool
		key string
	}{
		{&cfg.AI.ValidateSemantics, "VALIDATE_SEMANTICS"},
		{&cfg.AI.SemanticStrict, "SEMANTIC_STRICT"},
		{&cfg.AI.RepairMalformedResponses, "REPAIR_MALFORMED_RESPONSES"},
		{&cfg.Scheduler.AllowCancellation, "ALLOW_CANCELLATION"},
		{&cfg.PromptOpt.Enabled, "PROMPT_OPT_ENABLED"},
		{&cfg.Ops.Enabled, "OPS_ENABLED"},
	}
	for _, v := range boolVars {
		if err := setEnvBool(v.dst, v.key); err != nil {
			return err
		}
	}

	durationVars := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.Scheduler.ProcessingInterval, "PROCESSING_INTERVAL_MS"},
		{&cfg.Scheduler.IntervalJitter, "PROCESSING_INTERVAL_JITTER_MS"},
		{&cfg.Scheduler.StaleLockThreshold, "STALE_LOCK_THRESHOLD_MS"},
		{&cfg.Execution.DefaultTimeout, "DEFAULT_TIMEOUT_MS"},
		{&cfg.Store.RequestTimeout, "SCHEDULER_API_TIMEOUT_MS"},
	}
	for _, v := range durationVars {
		if err := setEnvDurationMs(v.dst, v.key); err != nil {
			return err
		}
	}

	return nil
}

func setEnvInt(dst *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return &EnvError{Var: key, Value: val, Err: err}
	}
	*dst = parsed
	return nil
}

func setEnvFloat(dst *float64, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return &EnvError{Var: key, Value: val, Err: err}
	}
	*dst = parsed
	return nil
}

func setEnvBool(dst *bool, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return &EnvError{Var: key, Value: val, Err: err}
	}
	*dst = parsed
	return nil
}

func setEnvDurationMs(dst *time.Duration, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	ms, err := strconv.Atoi(val)
	if err != nil {
		return &EnvError{Var: key, Value: val, Err: err}
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
