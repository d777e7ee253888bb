package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/models"
)

// anthropicMessages captures the subset of the Anthropic SDK used by the
// adapter. It is satisfied by *sdk.MessageService so tests can substitute a
// scripted implementation.
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicModel generates structured output through the Messages API by
// forcing a single tool call whose input schema is the target schema.
type AnthropicModel struct {
	messages        anthropicMessages
	model           string
	maxOutputTokens int
}

// defaultAnthropicMaxTokens applies when no output cap is configured; the
// Messages API requires an explicit max_tokens.
const defaultAnthropicMaxTokens = 4096

// NewAnthropicModel builds the adapter from configuration. The API key is
// required; transport retries are delegated to the SDK.
func NewAnthropicModel(cfg *config.AIConfig) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	client := sdk.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	)
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicModel{
		messages:        &client.Messages,
		model:           cfg.Model,
		maxOutputTokens: maxTokens,
	}, nil
}

func (m *AnthropicModel) Name() string { return "anthropic/" + m.model }

func (m *AnthropicModel) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var schemaDoc map[string]any
	if err := json.Unmarshal(req.Schema, &schemaDoc); err != nil {
		return nil, WrapError(CategoryUnknown, "invalid schema document", err)
	}

	tool := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaDoc}, req.SchemaName)
	if tool.OfTool != nil {
		tool.OfTool.Description = sdk.String("Emit the " + req.SchemaName + " object.")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.model),
		MaxTokens: int64(m.maxOutputTokens),
		System:    []sdk.TextBlockParam{{Text: req.System}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.User)),
		},
		Temperature: sdk.Float(req.Temperature),
		Tools:       []sdk.ToolUnionParam{tool},
		ToolChoice:  sdk.ToolChoiceParamOfTool(req.SchemaName),
	}

	msg, err := m.messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var (
		object  map[string]any
		rawText string
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if object != nil {
				continue
			}
			rawText = string(block.Input)
			if err := json.Unmarshal(block.Input, &object); err != nil {
				return &GenerateResponse{RawText: rawText, Usage: anthropicUsage(msg)},
					WrapError(CategorySchemaParse, fmt.Sprintf("tool input is not a JSON object: %q", snippet(rawText)), err)
			}
		case "text":
			if rawText == "" {
				rawText = block.Text
			}
		}
	}
	if object == nil {
		return &GenerateResponse{RawText: rawText, Usage: anthropicUsage(msg)},
			NewError(CategorySchemaParse, "model returned no structured tool call")
	}

	return &GenerateResponse{
		Object:  object,
		RawText: rawText,
		Usage:   anthropicUsage(msg),
	}, nil
}

func anthropicUsage(msg *sdk.Message) models.TokenUsage {
	u := msg.Usage
	return models.TokenUsage{
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		TotalTokens:       u.InputTokens + u.OutputTokens,
		CachedInputTokens: u.CacheReadInputTokens,
	}
}

func classifyAnthropicError(err error) *Error {
	if cat, ok := classifyTransport(err); ok {
		return WrapError(cat, "anthropic call failed", err)
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return WrapError(classifyStatus(apiErr.StatusCode), "anthropic call failed", err)
	}
	return WrapError(CategoryUnknown, "anthropic call failed", err)
}
