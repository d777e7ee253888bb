package config

// Provider identifies a supported language-model vendor.
type Provider string

const (
	// ProviderOpenAI uses the OpenAI Chat Completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic uses the Anthropic Messages API.
	ProviderAnthropic Provider = "anthropic"
)

// IsValid checks if the provider is valid.
func (p Provider) IsValid() bool {
	return p == ProviderOpenAI || p == ProviderAnthropic
}

// APIKeyEnvVar returns the environment variable carrying the provider credential.
func (p Provider) APIKeyEnvVar() string {
	switch p {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// LogFormat selects the slog handler flavor.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid checks if the log format is valid.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}
