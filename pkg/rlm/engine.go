// Package rlm wires together the sandbox pool, remote model provider,
// prompt builder, trace writer, and verification pipeline into the single
// entrypoint external callers use: Engine.Query.
package rlm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/rlmengine/pkg/config"
	"github.com/codeready-toolchain/rlmengine/pkg/orchestrator"
	"github.com/codeready-toolchain/rlmengine/pkg/prompt"
	"github.com/codeready-toolchain/rlmengine/pkg/provider"
	"github.com/codeready-toolchain/rlmengine/pkg/redact"
	"github.com/codeready-toolchain/rlmengine/pkg/retry"
	"github.com/codeready-toolchain/rlmengine/pkg/sandbox"
	"github.com/codeready-toolchain/rlmengine/pkg/trace"
	"github.com/codeready-toolchain/rlmengine/pkg/verify"
)

// TokenUsage is the aggregate token accounting for one query, across the
// outer-model loop and every inner-model subcall/verification call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// QueryResult is the shape every Engine.Query call returns, matching
// the engine's user-visible contract.
type QueryResult struct {
	Answer               string
	TraceID              string
	TokenUsage           TokenUsage
	ExecutionTime        time.Duration
	Verification         *verify.Result
	SemanticVerification *verify.Report
}

// Engine composes every collaborator a query needs: a warm executor pool,
// a remote model provider, prompt templates, trace persistence, citation
// verification, and export-time redaction.
type Engine struct {
	// Pool is used when set; Executor runs every query directly (no
	// pooling, no re-acquire on death) when Pool is nil.
	Pool     *sandbox.Pool
	Executor sandbox.Executor
	Provider provider.Provider
	Builder  *prompt.Builder
	Redactor *redact.Redactor
	Config   config.Config
	TraceDir string
	Logger   *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Query answers question over documents (docNames aligned by index, used
// for citation/content-type metadata) end to end: orchestration, optional
// mechanical citation verification, optional semantic verification, and
// trace persistence. It always returns a QueryResult unless a
// PermanentError escapes the outer-model call chain.
func (e *Engine) Query(ctx context.Context, documents []string, docNames []string, question string) (QueryResult, error) {
	start := time.Now()

	docRefs := make([]string, len(documents))
	copy(docRefs, docNames)

	tracer := trace.New(e.TraceDir, "", question, docRefs, e.Config.Model, e.logger())
	defer tracer.Close()

	orch := &orchestrator.Orchestrator{
		Provider:               e.Provider,
		Model:                  e.Config.Model,
		Builder:                e.Builder,
		Pool:                   e.Pool,
		Executor:               e.Executor,
		MaxIterations:          e.Config.MaxIterations,
		MaxSubcallContentChars: e.Config.MaxSubcallContentChars,
		ExecuteTimeout:         time.Duration(e.Config.ExecuteTimeoutSeconds) * time.Second,
		RetryConfig:            retry.DefaultConfig(),
		VerifyCitations:        e.Config.VerifyCitations,
		Tracer:                 tracer,
		Logger:                 e.logger(),
	}

	runResult, err := orch.Run(ctx, documents, docNames, question)
	if err != nil {
		tracer.Finish(trace.StatusError)
		return QueryResult{}, fmt.Errorf("rlm: orchestrator run: %w", err)
	}

	status := trace.StatusSuccess
	if runResult.Outcome != orchestrator.OutcomeFinal {
		status = trace.StatusError
	}

	result := QueryResult{
		Answer:  runResult.Answer,
		TraceID: tracer.TraceID(),
		TokenUsage: TokenUsage{
			PromptTokens:     runResult.PromptTokens,
			CompletionTokens: runResult.CompletionTokens,
		},
	}

	result.Verification = runResult.MechanicalVerification

	if e.Config.Verify && runResult.Outcome == orchestrator.OutcomeFinal {
		result.SemanticVerification = e.runSemanticVerification(ctx, tracer, runResult.Answer, documents, docNames)
	}

	result.ExecutionTime = time.Since(start)
	tracer.Finish(status)
	return result, nil
}

// runSemanticVerification runs the two-layer adversarial review when
// verify_adversarial.md is loaded. Parse or provider failure is recorded
// and returns nil rather than blocking the answer.
func (e *Engine) runSemanticVerification(ctx context.Context, tracer *trace.Writer, answer string, documents, docNames []string) *verify.Report {
	if !e.Builder.HasVerifyAdversarial() {
		return nil
	}

	citations := verify.ExtractCitations(answer)
	v := &verify.Verifier{Provider: e.Provider, Model: e.Config.Model, Builder: e.Builder}
	report, err := v.Verify(ctx, answer, citations, documents, docNames)
	if err != nil {
		tracer.Step(0, trace.StepSemanticVerification, fmt.Sprintf("semantic verification failed: %v", err), -1, -1)
		return nil
	}
	return &report
}
