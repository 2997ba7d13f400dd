package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeProvider exercises the Provider interface contract from a caller's
// perspective, the way pkg/verify and pkg/orchestrator consume it.
type fakeProvider struct {
	lastMessages []Message
	lastModel    string
	completion   Completion
	err          error
}

func (f *fakeProvider) Complete(ctx context.Context, messages []Message, model string) (Completion, error) {
	f.lastMessages = messages
	f.lastModel = model
	return f.completion, f.err
}

func TestProvider_InterfaceUsage(t *testing.T) {
	var p Provider = &fakeProvider{completion: Completion{Text: "ok", Usage: Usage{PromptTokens: 1, CompletionTokens: 2}}}
	out, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, "some-model")
	assert.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, 3, out.Usage.PromptTokens+out.Usage.CompletionTokens)
}

func TestClassifyAnthropicError_FallsBackToTransportClassification(t *testing.T) {
	plain := errors.New("connection reset by peer")
	classified := classifyAnthropicError(plain)
	assert.Error(t, classified)
}

func TestClassifyOpenAIError_FallsBackToTransportClassification(t *testing.T) {
	plain := errors.New("connection refused")
	classified := classifyOpenAIError(plain)
	assert.Error(t, classified)
}

func TestNewAnthropicProvider_DoesNotPanic(t *testing.T) {
	assert.NotNil(t, NewAnthropicProvider("test-key", ""))
	assert.NotNil(t, NewAnthropicProvider("test-key", "https://example.test/v1"))
}

func TestNewOpenAIProvider_DoesNotPanic(t *testing.T) {
	assert.NotNil(t, NewOpenAIProvider("test-key", ""))
	assert.NotNil(t, NewOpenAIProvider("test-key", "https://example.test/v1"))
}
