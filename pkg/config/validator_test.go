package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quandohq/quando/pkg/models"
)

// validConfig returns a configuration that passes every check; tests break
// one field at a time.
func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.APIKey = "test-key"
	return cfg
}

func TestValidateAllAcceptsDefaults(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAI(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.AI.Provider = "mistral" },
			wantErr: "invalid provider",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.AI.Model = "" },
			wantErr: "model required",
		},
		{
			name:    "missing credential names the env var",
			mutate:  func(c *Config) { c.AI.APIKey = "" },
			wantErr: "OPENAI_API_KEY",
		},
		{
			name: "anthropic credential names its env var",
			mutate: func(c *Config) {
				c.AI.Provider = ProviderAnthropic
				c.AI.APIKey = ""
			},
			wantErr: "ANTHROPIC_API_KEY",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.AI.Temperature = 2.5 },
			wantErr: "temperature",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.AI.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "zero output tokens",
			mutate:  func(c *Config) { c.AI.MaxOutputTokens = 0 },
			wantErr: "max_output_tokens",
		},
		{
			name:    "negative repair attempts",
			mutate:  func(c *Config) { c.AI.MaxRepairAttempts = -2 },
			wantErr: "max_repair_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateScheduler(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Scheduler.MaxBatchSize = 0 },
			wantErr: "max_batch_size",
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Scheduler.ProcessingInterval = 0 },
			wantErr: "processing_interval_ms",
		},
		{
			name:    "negative jitter",
			mutate:  func(c *Config) { c.Scheduler.IntervalJitter = -1 },
			wantErr: "processing_interval_jitter_ms",
		},
		{
			name:    "zero lock threshold",
			mutate:  func(c *Config) { c.Scheduler.StaleLockThreshold = 0 },
			wantErr: "stale_lock_threshold_ms",
		},
		{
			name:    "zero job concurrency",
			mutate:  func(c *Config) { c.Scheduler.JobProcessingConcurrency = 0 },
			wantErr: "job_processing_concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateExecution(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero max concurrency",
			mutate:  func(c *Config) { c.Execution.MaxConcurrency = 0 },
			wantErr: "max_concurrency",
		},
		{
			name:    "zero default concurrency limit",
			mutate:  func(c *Config) { c.Execution.DefaultConcurrencyLimit = 0 },
			wantErr: "default_concurrency_limit",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Execution.DefaultTimeout = 0 },
			wantErr: "default_timeout_ms",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Execution.MaxEndpointRetries = -1 },
			wantErr: "max_endpoint_retries",
		},
		{
			name:    "ratio above one",
			mutate:  func(c *Config) { c.Execution.CriticalFailureRatio = 1.5 },
			wantErr: "critical_failure_ratio",
		},
		{
			name: "warn ratio above critical",
			mutate: func(c *Config) {
				c.Execution.WarnFailureRatio = 0.9
				c.Execution.CriticalFailureRatio = 0.5
			},
			wantErr: "must not exceed critical_failure_ratio",
		},
		{
			name:    "negative warn threshold attempt",
			mutate:  func(c *Config) { c.Execution.WarnThresholdAttempt = -1 },
			wantErr: "warn_threshold_attempt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePromptOpt(t *testing.T) {
	cfg := validConfig()
	cfg.PromptOpt.MinRecentMessages = cfg.PromptOpt.MaxMessages + 1
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not exceed max_messages")
}

func TestValidateStore(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base URL",
			mutate:  func(c *Config) { c.Store.BaseURL = "" },
			wantErr: "base URL required",
		},
		{
			name:    "URL without scheme",
			mutate:  func(c *Config) { c.Store.BaseURL = "localhost:3000/api" },
			wantErr: "invalid URL",
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Store.RequestTimeout = 0 },
			wantErr: "request_timeout_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateOps(t *testing.T) {
	cfg := validConfig()
	cfg.Ops.Enabled = true
	cfg.Ops.ListenAddr = ""
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")

	// A disabled ops server needs no address.
	cfg.Ops.Enabled = false
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateLogging(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid level")

	cfg = validConfig()
	cfg.Logging.Format = "xml"
	err = NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidateEnvironment(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = models.Environment("staging")
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment")
}
