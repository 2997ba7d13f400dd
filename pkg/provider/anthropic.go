package provider

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeready-toolchain/rlmengine/pkg/retry"
)

const defaultAnthropicMaxTokens int64 = 4096

// AnthropicProvider calls Claude models through anthropic-sdk-go.
type AnthropicProvider struct {
	sdk       anthropic.Client
	maxTokens int64
}

// NewAnthropicProvider builds a provider authenticated with apiKey. An
// empty baseURL uses the SDK's default endpoint.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &AnthropicProvider{
		sdk:       anthropic.NewClient(opts...),
		maxTokens: defaultAnthropicMaxTokens,
	}
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, model string) (Completion, error) {
	var system []anthropic.TextBlockParam
	var converted []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		System:    system,
		MaxTokens: p.maxTokens,
	}

	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return Completion{
		Text: text.String(),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// classifyAnthropicError maps the SDK's error into pkg/retry's error kinds
// so callers can drive retry.Do uniformly across providers.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retry.ClassifyHTTPStatus(apiErr.StatusCode, err, nil)
	}
	return retry.ClassifyTransportError(err)
}
