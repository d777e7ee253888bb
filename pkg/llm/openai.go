package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/models"
)

// openaiCompletions captures the subset of the OpenAI SDK used by the
// adapter. It is satisfied by *openai.ChatCompletionService so tests can
// substitute a scripted implementation.
type openaiCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIModel generates structured output through the Chat Completions API
// using the json_schema response format.
type OpenAIModel struct {
	completions     openaiCompletions
	model           string
	maxOutputTokens int
}

// NewOpenAIModel builds the adapter from configuration. The API key is
// required; transport retries are delegated to the SDK.
func NewOpenAIModel(cfg *config.AIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	)
	return &OpenAIModel{
		completions:     &client.Chat.Completions,
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
	}, nil
}

func (m *OpenAIModel) Name() string { return "openai/" + m.model }

func (m *OpenAIModel) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var schemaDoc any
	if err := json.Unmarshal(req.Schema, &schemaDoc); err != nil {
		return nil, WrapError(CategoryUnknown, "invalid schema document", err)
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: schemaDoc,
				},
			},
		},
	}
	if m.maxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(m.maxOutputTokens))
	}

	completion, err := m.completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, NewError(CategorySchemaParse, "model returned no choices")
	}

	raw := strings.TrimSpace(completion.Choices[0].Message.Content)
	if raw == "" {
		return nil, NewError(CategorySchemaParse, "model returned empty content")
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(raw), &object); err != nil {
		return &GenerateResponse{RawText: raw, Usage: openaiUsage(completion)},
			WrapError(CategorySchemaParse, fmt.Sprintf("response is not a JSON object: %q", snippet(raw)), err)
	}

	return &GenerateResponse{
		Object:  object,
		RawText: raw,
		Usage:   openaiUsage(completion),
	}, nil
}

func openaiUsage(completion *openai.ChatCompletion) models.TokenUsage {
	u := completion.Usage
	return models.TokenUsage{
		InputTokens:       u.PromptTokens,
		OutputTokens:      u.CompletionTokens,
		TotalTokens:       u.TotalTokens,
		ReasoningTokens:   u.CompletionTokensDetails.ReasoningTokens,
		CachedInputTokens: u.PromptTokensDetails.CachedTokens,
	}
}

func classifyOpenAIError(err error) *Error {
	if cat, ok := classifyTransport(err); ok {
		return WrapError(cat, "openai call failed", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return WrapError(classifyStatus(apiErr.StatusCode), "openai call failed", err)
	}
	return WrapError(CategoryUnknown, "openai call failed", err)
}
