package provider

import (
	"context"
	"errors"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/codeready-toolchain/rlmengine/pkg/retry"
)

// OpenAIProvider calls chat-completion models through openai-go.
type OpenAIProvider struct {
	sdk oai.Client
}

// NewOpenAIProvider builds a provider authenticated with apiKey. An empty
// baseURL uses the SDK's default endpoint, which also covers
// OpenAI-compatible self-hosted servers when a baseURL is supplied.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &OpenAIProvider{sdk: oai.NewClient(opts...)}
}

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, model string) (Completion, error) {
	var converted []oai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, oai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, oai.AssistantMessage(m.Content))
		default:
			converted = append(converted, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: converted,
	}

	resp, err := p.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("provider: openai response had no choices")
	}

	return Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// classifyOpenAIError maps the SDK's error into pkg/retry's error kinds so
// callers can drive retry.Do uniformly across providers.
func classifyOpenAIError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return retry.ClassifyHTTPStatus(apiErr.StatusCode, err, nil)
	}
	return retry.ClassifyTransportError(err)
}
