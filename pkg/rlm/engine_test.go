package rlm_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rlmengine/pkg/config"
	"github.com/codeready-toolchain/rlmengine/pkg/prompt"
	"github.com/codeready-toolchain/rlmengine/pkg/provider"
	"github.com/codeready-toolchain/rlmengine/pkg/rlm"
	"github.com/codeready-toolchain/rlmengine/pkg/sandbox"
)

// fakeProvider replays one completion per outer Complete call and hands a
// fixed response to any single-message (subcall/verifier) prompt.
type fakeProvider struct {
	outerResponses []string
	outerCalls     int
	verifyResponse string
}

func (f *fakeProvider) Complete(ctx context.Context, messages []provider.Message, model string) (provider.Completion, error) {
	if len(messages) == 1 && messages[0].Role == "user" {
		return provider.Completion{Text: f.verifyResponse}, nil
	}
	if f.outerCalls >= len(f.outerResponses) {
		return provider.Completion{Text: f.outerResponses[len(f.outerResponses)-1]}, nil
	}
	text := f.outerResponses[f.outerCalls]
	f.outerCalls++
	return provider.Completion{Text: text, Usage: provider.Usage{PromptTokens: 2, CompletionTokens: 3}}, nil
}

// fakeExecutor is a minimal in-memory sandbox.Executor used directly
// (no pool) so Engine.Query exercises the non-pooled path.
type fakeExecutor struct {
	alive    bool
	execFunc func(code string) (sandbox.ExecutionResult, error)
}

func (f *fakeExecutor) Start(ctx context.Context) error { return nil }
func (f *fakeExecutor) SetupContext(ctx context.Context, documents []string) error {
	return nil
}
func (f *fakeExecutor) Execute(ctx context.Context, code string, timeout time.Duration, onQuery sandbox.QueryHandler) (sandbox.ExecutionResult, error) {
	return f.execFunc(code)
}
func (f *fakeExecutor) ResetNamespace(ctx context.Context) error { return nil }
func (f *fakeExecutor) Stop(ctx context.Context) error           { return nil }
func (f *fakeExecutor) IsAlive() bool                            { return f.alive }

func baseEngine(t *testing.T, p provider.Provider, ex sandbox.Executor) *rlm.Engine {
	t.Helper()
	return &rlm.Engine{
		Provider: p,
		Executor: ex,
		Builder:  prompt.NewBuilder(prompt.LoadDefaults()),
		Config: config.Config{
			Model:                  "test-model",
			MaxIterations:          5,
			MaxSubcallContentChars: 1000,
			ExecuteTimeoutSeconds:  1,
			VerifyCitations:        false,
			Verify:                 false,
		},
		TraceDir: t.TempDir(),
		Logger:   slog.Default(),
	}
}

func TestEngine_Query_HappyPathNoVerification(t *testing.T) {
	p := &fakeProvider{outerResponses: []string{"```repl\nFINAL(\"the answer\")\n```"}}
	ex := &fakeExecutor{
		alive: true,
		execFunc: func(code string) (sandbox.ExecutionResult, error) {
			return sandbox.ExecutionResult{Status: sandbox.StatusOK, FinalAnswer: "the answer"}, nil
		},
	}
	e := baseEngine(t, p, ex)

	result, err := e.Query(context.Background(), []string{"hello world"}, []string{"a.txt"}, "what's in doc 0?")
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Answer)
	assert.NotEmpty(t, result.TraceID)
	assert.Equal(t, 2, result.TokenUsage.PromptTokens)
	assert.Equal(t, 3, result.TokenUsage.CompletionTokens)
	assert.Nil(t, result.Verification)
	assert.Nil(t, result.SemanticVerification)
	assert.Greater(t, result.ExecutionTime, time.Duration(0))
}

func TestEngine_Query_MechanicalVerificationRunsOnCitedAnswer(t *testing.T) {
	p := &fakeProvider{
		outerResponses: []string{"```repl\nFINAL(\"Per Doc **0**, the answer is \\\"a fairly long quoted passage\\\"\")\n```"},
	}
	ex := &fakeExecutor{alive: true}
	ex.execFunc = func(code string) (sandbox.ExecutionResult, error) {
		if contains(code, "FINAL(") {
			return sandbox.ExecutionResult{Status: sandbox.StatusOK, FinalAnswer: "Per Doc **0**, the answer is \"a fairly long quoted passage\""}, nil
		}
		return sandbox.ExecutionResult{Status: sandbox.StatusOK, Stdout: `{"citations": [{"doc_id": 0, "found": true}], "quotes": [{"text": "a fairly long quoted passage", "doc_id": 0, "found": true}]}`}, nil
	}
	e := baseEngine(t, p, ex)
	e.Config.VerifyCitations = true
	e.Pool = sandbox.NewPool(func() sandbox.Executor { return ex }, 1, slog.Default())
	require.NoError(t, e.Pool.Start(context.Background()))

	result, err := e.Query(context.Background(), []string{"some corpus text"}, []string{"a.txt"}, "what does doc 0 say?")
	require.NoError(t, err)
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verification.AllValid())
}

func TestEngine_Query_SemanticVerificationSkippedWithoutTemplate(t *testing.T) {
	p := &fakeProvider{outerResponses: []string{"```repl\nFINAL(\"plain answer, no citations\")\n```"}}
	ex := &fakeExecutor{
		alive: true,
		execFunc: func(code string) (sandbox.ExecutionResult, error) {
			return sandbox.ExecutionResult{Status: sandbox.StatusOK, FinalAnswer: "plain answer, no citations"}, nil
		},
	}
	e := baseEngine(t, p, ex)
	e.Config.Verify = true

	result, err := e.Query(context.Background(), []string{"doc"}, []string{"a.txt"}, "q")
	require.NoError(t, err)
	assert.Nil(t, result.SemanticVerification)
}

func TestEngine_Query_DegradedOutcomeStillReturnsResult(t *testing.T) {
	p := &fakeProvider{outerResponses: []string{"```repl\nprint('no final yet')\n```"}}
	ex := &fakeExecutor{
		alive: true,
		execFunc: func(code string) (sandbox.ExecutionResult, error) {
			return sandbox.ExecutionResult{Status: sandbox.StatusOK, Stdout: "no final yet"}, nil
		},
	}
	e := baseEngine(t, p, ex)
	e.Config.MaxIterations = 2

	result, err := e.Query(context.Background(), []string{"doc"}, []string{"a.txt"}, "q")
	require.NoError(t, err)
	assert.Equal(t, "max iterations exceeded", result.Answer)
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
