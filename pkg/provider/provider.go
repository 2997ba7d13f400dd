// Package provider abstracts the remote model backends the orchestrator and
// sub-model calls run against, so neither pkg/orchestrator nor pkg/verify
// needs to know whether a given model id resolves to Anthropic or OpenAI.
package provider

import "context"

// Message is a single turn in a conversation sent to Complete.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Usage carries token accounting for one completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion is the result of a single, non-streaming model call.
type Completion struct {
	Text  string
	Usage Usage
}

// Provider is the abstraction every outer- and inner-model call in the
// engine goes through. Implementations must classify SDK-level failures
// into pkg/retry's PermanentError/RateLimitError/TransientError via
// retry.ClassifyHTTPStatus / retry.ClassifyTransportError so pkg/retry.Do
// can drive the caller's backoff loop uniformly across backends.
type Provider interface {
	Complete(ctx context.Context, messages []Message, model string) (Completion, error)
}
