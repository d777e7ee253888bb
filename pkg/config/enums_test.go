package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderIsValid(t *testing.T) {
	assert.True(t, ProviderOpenAI.IsValid())
	assert.True(t, ProviderAnthropic.IsValid())
	assert.False(t, Provider("mistral").IsValid())
	assert.False(t, Provider("").IsValid())
}

func TestProviderAPIKeyEnvVar(t *testing.T) {
	assert.Equal(t, "OPENAI_API_KEY", ProviderOpenAI.APIKeyEnvVar())
	assert.Equal(t, "ANTHROPIC_API_KEY", ProviderAnthropic.APIKeyEnvVar())
}

func TestLogFormatIsValid(t *testing.T) {
	assert.True(t, LogFormatText.IsValid())
	assert.True(t, LogFormatJSON.IsValid())
	assert.False(t, LogFormat("xml").IsValid())
}
