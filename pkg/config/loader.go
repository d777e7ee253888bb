package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/quandohq/quando/pkg/models"
)

// engineYAMLConfig represents the complete quando.yaml overlay structure.
// Every section is optional; absent sections keep their built-in defaults.
type engineYAMLConfig struct {
	AI          *aiYAMLConfig        `yaml:"ai"`
	Scheduler   *schedulerYAMLConfig `yaml:"scheduler"`
	Execution   *executionYAMLConfig `yaml:"execution"`
	PromptOpt   *promptOptYAMLConfig `yaml:"prompt_optimization"`
	Store       *storeYAMLConfig     `yaml:"store"`
	Ops         *opsYAMLConfig       `yaml:"ops"`
	Logging     *loggingYAMLConfig   `yaml:"logging"`
	Environment string               `yaml:"environment"`
}

// aiYAMLConfig holds AI settings from YAML. Pointer fields distinguish
// "absent" from explicit false/zero so overlays can disable defaults.
type aiYAMLConfig struct {
	Provider                 string   `yaml:"provider,omitempty"`
	Model                    string   `yaml:"model,omitempty"`
	Temperature              *float64 `yaml:"temperature,omitempty"`
	MaxRetries               *int     `yaml:"max_retries,omitempty"`
	MaxOutputTokens          *int     `yaml:"max_output_tokens,omitempty"`
	ValidateSemantics        *bool    `yaml:"validate_semantics,omitempty"`
	SemanticStrict           *bool    `yaml:"semantic_strict,omitempty"`
	RepairMalformedResponses *bool    `yaml:"repair_malformed_responses,omitempty"`
	MaxRepairAttempts        *int     `yaml:"max_repair_attempts,omitempty"`
}

// schedulerYAMLConfig holds cycle-runner settings from YAML. Durations are
// carried as milliseconds to match the environment variable contract.
type schedulerYAMLConfig struct {
	MaxBatchSize               *int  `yaml:"max_batch_size,omitempty"`
	ProcessingIntervalMs       *int  `yaml:"processing_interval_ms,omitempty"`
	ProcessingIntervalJitterMs *int  `yaml:"processing_interval_jitter_ms,omitempty"`
	StaleLockThresholdMs       *int  `yaml:"stale_lock_threshold_ms,omitempty"`
	JobProcessingConcurrency   *int  `yaml:"job_processing_concurrency,omitempty"`
	AllowCancellation          *bool `yaml:"allow_cancellation,omitempty"`
}

// executionYAMLConfig holds execution settings from YAML. The numeric fields
// merge onto defaults via mergo; the timeout rides separately in ms.
type executionYAMLConfig struct {
	ExecutionConfig  `yaml:",inline"`
	DefaultTimeoutMs *int `yaml:"default_timeout_ms,omitempty"`
}

// promptOptYAMLConfig holds history-trimming settings from YAML.
type promptOptYAMLConfig struct {
	Enabled                 *bool `yaml:"enabled,omitempty"`
	MaxMessages             *int  `yaml:"max_messages,omitempty"`
	MinRecentMessages       *int  `yaml:"min_recent_messages,omitempty"`
	MaxEndpointUsageEntries *int  `yaml:"max_endpoint_usage_entries,omitempty"`
}

// storeYAMLConfig holds persistence API settings from YAML.
type storeYAMLConfig struct {
	BaseURL          string `yaml:"base_url,omitempty"`
	RequestTimeoutMs *int   `yaml:"request_timeout_ms,omitempty"`
}

// opsYAMLConfig holds operational server settings from YAML.
type opsYAMLConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// loggingYAMLConfig holds logging settings from YAML.
type loggingYAMLConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Overlay the optional YAML file (environment variables expanded)
//  3. Apply environment variable overrides
//  4. Resolve the provider API credential
//  5. Validate all configuration
func Initialize(_ context.Context, path string) (*Config, error) {
	log := slog.With("component", "config")

	cfg := DefaultConfig()

	if path != "" {
		overlay, err := loadOverlay(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := applyOverlay(cfg, overlay); err != nil {
			return nil, fmt.Errorf("failed to apply configuration file: %w", err)
		}
		log.Info("Applied configuration file", "path", path)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// The credential always comes from the environment, keyed by provider.
	if key := os.Getenv(cfg.AI.Provider.APIKeyEnvVar()); key != "" {
		cfg.AI.APIKey = key
	}
	if token := os.Getenv("SCHEDULER_API_TOKEN"); token != "" {
		cfg.Store.APIToken = token
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"provider", cfg.AI.Provider,
		"model", cfg.AI.Model,
		"store_url", cfg.Store.BaseURL,
		"max_batch_size", cfg.Scheduler.MaxBatchSize,
		"environment", cfg.Environment)

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// loadOverlay reads and parses the YAML overlay file.
func loadOverlay(path string) (*engineYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser produce the clearer error message.
	data = ExpandEnv(data)

	var overlay engineYAMLConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &overlay, nil
}

// applyOverlay folds the parsed YAML onto the default configuration.
func applyOverlay(cfg *Config, overlay *engineYAMLConfig) error {
	applyAIOverlay(cfg.AI, overlay.AI)
	applySchedulerOverlay(cfg.Scheduler, overlay.Scheduler)
	applyPromptOptOverlay(cfg.PromptOpt, overlay.PromptOpt)
	applyStoreOverlay(cfg.Store, overlay.Store)
	applyOpsOverlay(cfg.Ops, overlay.Ops)
	applyLoggingOverlay(cfg.Logging, overlay.Logging)

	if overlay.Execution != nil {
		// Non-zero overlay values override defaults.
		if err := mergo.Merge(cfg.Execution, overlay.Execution.ExecutionConfig, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge execution config: %w", err)
		}
		if overlay.Execution.DefaultTimeoutMs != nil {
			cfg.Execution.DefaultTimeout = time.Duration(*overlay.Execution.DefaultTimeoutMs) * time.Millisecond
		}
	}

	if overlay.Environment != "" {
		cfg.Environment = models.Environment(overlay.Environment)
	}

	return nil
}

func applyAIOverlay(dst *AIConfig, y *aiYAMLConfig) {
	if y == nil {
		return
	}
	if y.Provider != "" {
		dst.Provider = Provider(y.Provider)
	}
	if y.Model != "" {
		dst.Model = y.Model
	}
	if y.Temperature != nil {
		dst.Temperature = *y.Temperature
	}
	if y.MaxRetries != nil {
		dst.MaxRetries = *y.MaxRetries
	}
	if y.MaxOutputTokens != nil {
		dst.MaxOutputTokens = *y.MaxOutputTokens
	}
	if y.ValidateSemantics != nil {
		dst.ValidateSemantics = *y.ValidateSemantics
	}
	if y.SemanticStrict != nil {
		dst.SemanticStrict = *y.SemanticStrict
	}
	if y.RepairMalformedResponses != nil {
		dst.RepairMalformedResponses = *y.RepairMalformedResponses
	}
	if y.MaxRepairAttempts != nil {
		dst.MaxRepairAttempts = *y.MaxRepairAttempts
	}
}

func applySchedulerOverlay(dst *SchedulerConfig, y *schedulerYAMLConfig) {
	if y == nil {
		return
	}
	if y.MaxBatchSize != nil {
		dst.MaxBatchSize = *y.MaxBatchSize
	}
	if y.ProcessingIntervalMs != nil {
		dst.ProcessingInterval = time.Duration(*y.ProcessingIntervalMs) * time.Millisecond
	}
	if y.ProcessingIntervalJitterMs != nil {
		dst.IntervalJitter = time.Duration(*y.ProcessingIntervalJitterMs) * time.Millisecond
	}
	if y.StaleLockThresholdMs != nil {
		dst.StaleLockThreshold = time.Duration(*y.StaleLockThresholdMs) * time.Millisecond
	}
	if y.JobProcessingConcurrency != nil {
		dst.JobProcessingConcurrency = *y.JobProcessingConcurrency
	}
	if y.AllowCancellation != nil {
		dst.AllowCancellation = *y.AllowCancellation
	}
}

func applyPromptOptOverlay(dst *PromptOptimizationConfig, y *promptOptYAMLConfig) {
	if y == nil {
		return
	}
	if y.Enabled != nil {
		dst.Enabled = *y.Enabled
	}
	if y.MaxMessages != nil {
		dst.MaxMessages = *y.MaxMessages
	}
	if y.MinRecentMessages != nil {
		dst.MinRecentMessages = *y.MinRecentMessages
	}
	if y.MaxEndpointUsageEntries != nil {
		dst.MaxEndpointUsageEntries = *y.MaxEndpointUsageEntries
	}
}

func applyStoreOverlay(dst *StoreConfig, y *storeYAMLConfig) {
	if y == nil {
		return
	}
	if y.BaseURL != "" {
		dst.BaseURL = y.BaseURL
	}
	if y.RequestTimeoutMs != nil {
		dst.RequestTimeout = time.Duration(*y.RequestTimeoutMs) * time.Millisecond
	}
}

func applyOpsOverlay(dst *OpsConfig, y *opsYAMLConfig) {
	if y == nil {
		return
	}
	if y.Enabled != nil {
		dst.Enabled = *y.Enabled
	}
	if y.ListenAddr != "" {
		dst.ListenAddr = y.ListenAddr
	}
}

func applyLoggingOverlay(dst *LoggingConfig, y *loggingYAMLConfig) {
	if y == nil {
		return
	}
	if y.Level != "" {
		dst.Level = y.Level
	}
	if y.Format != "" {
		dst.Format = LogFormat(y.Format)
	}
}
