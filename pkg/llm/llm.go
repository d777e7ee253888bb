// Package llm adapts the configured model provider behind a single
// structured-generation interface. Every call asks for a JSON object
// conforming to a caller-supplied schema: the OpenAI adapter uses the
// json_schema response format, the Anthropic adapter forces a single tool
// call whose input schema is the target schema. Callers validate the
// decoded object again locally before trusting it.
package llm

import (
	"context"
	"fmt"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/models"
)

// GenerateRequest describes one structured-output call.
type GenerateRequest struct {
	System string
	User   string

	// SchemaName labels the expected object. It doubles as the tool name
	// for providers that emulate structured output with forced tool use.
	SchemaName string

	// Schema is the raw JSON Schema document the response must satisfy.
	Schema []byte

	// Temperature is the sampling temperature for this call. Corrective
	// re-prompts pass 0 regardless of the configured default.
	Temperature float64
}

// GenerateResponse carries the decoded object plus provider accounting.
type GenerateResponse struct {
	// Object is the parsed JSON object returned by the model.
	Object map[string]any

	// RawText is the unparsed response text, kept for corrective re-prompts
	// and malformed-response diagnostics.
	RawText string

	Usage models.TokenUsage
}

// LanguageModel is the provider-agnostic structured generation contract.
type LanguageModel interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// Name identifies the adapter for logs and metrics, e.g. "openai/gpt-4o".
	Name() string
}

// New builds the adapter selected by cfg.Provider.
func New(cfg *config.AIConfig) (LanguageModel, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIModel(cfg)
	case config.ProviderAnthropic:
		return NewAnthropicModel(cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}
}
