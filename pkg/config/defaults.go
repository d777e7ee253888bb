package config

import (
	"time"

	"github.com/quandohq/quando/pkg/models"
)

// DefaultConfig returns the built-in configuration. Every field has a
// working default except the AI credential.
func DefaultConfig() *Config {
	return &Config{
		AI:          DefaultAIConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		Execution:   DefaultExecutionConfig(),
		PromptOpt:   DefaultPromptOptimizationConfig(),
		Store:       DefaultStoreConfig(),
		Ops:         DefaultOpsConfig(),
		Logging:     DefaultLoggingConfig(),
		Environment: models.EnvironmentDevelopment,
	}
}

// DefaultAIConfig returns the built-in AI defaults.
func DefaultAIConfig() *AIConfig {
	return &AIConfig{
		Provider:                 ProviderOpenAI,
		Model:                    "gpt-4o",
		Temperature:              0.2,
		MaxRetries:               2,
		MaxOutputTokens:          4096,
		ValidateSemantics:        true,
		SemanticStrict:           false,
		RepairMalformedResponses: true,
		MaxRepairAttempts:        1,
	}
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxBatchSize:             20,
		ProcessingInterval:       60 * time.Second,
		IntervalJitter:           0,
		StaleLockThreshold:       5 * time.Minute,
		JobProcessingConcurrency: 1,
		AllowCancellation:        true,
	}
}

// DefaultExecutionConfig returns the built-in execution defaults.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		MaxConcurrency:             5,
		DefaultConcurrencyLimit:    3,
		DefaultTimeout:             30 * time.Second,
		MaxEndpointRetries:         3,
		ResponseContentLengthLimit: 10000,
		WarnFailureRatio:           0.25,
		CriticalFailureRatio:       0.5,
		WarnThresholdAttempt:       0,
		CriticalThresholdAttempt:   0,
	}
}

// DefaultPromptOptimizationConfig returns the built-in trimming defaults.
func DefaultPromptOptimizationConfig() *PromptOptimizationConfig {
	return &PromptOptimizationConfig{
		Enabled:                 true,
		MaxMessages:             10,
		MinRecentMessages:       3,
		MaxEndpointUsageEntries: 5,
	}
}

// DefaultStoreConfig returns the built-in store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		BaseURL:        "http://localhost:3000/api",
		RequestTimeout: 10 * time.Second,
	}
}

// DefaultOpsConfig returns the built-in ops server defaults.
func DefaultOpsConfig() *OpsConfig {
	return &OpsConfig{
		Enabled:    true,
		ListenAddr: ":8090",
	}
}

// DefaultLoggingConfig returns the built-in logging defaults.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:  "info",
		Format: LogFormatText,
	}
}
