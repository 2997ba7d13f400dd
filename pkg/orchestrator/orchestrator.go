// Package orchestrator drives the supervised REPL loop: it calls the outer
// model for code, runs that code in a sandbox executor, feeds the result
// back, and repeats until the sandbox signals FINAL, the executor dies, or
// max_iterations is reached.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/codeready-toolchain/rlmengine/pkg/prompt"
	"github.com/codeready-toolchain/rlmengine/pkg/provider"
	"github.com/codeready-toolchain/rlmengine/pkg/retry"
	"github.com/codeready-toolchain/rlmengine/pkg/sandbox"
	"github.com/codeready-toolchain/rlmengine/pkg/trace"
	"github.com/codeready-toolchain/rlmengine/pkg/verify"
)

// defaultVerifyTimeout bounds the mechanical verification program when
// Orchestrator.VerifyTimeout is left at its zero value.
const defaultVerifyTimeout = 10 * time.Second

// Outcome is the orchestrator's terminal, observable state, recorded in the
// trace summary.
type Outcome string

const (
	OutcomeFinal        Outcome = "final"
	OutcomeExecutorDied Outcome = "executor_died"
	OutcomeMaxIters     Outcome = "max_iters"
	OutcomeError        Outcome = "error"
)

// SubcallContentError is raised when an llm_query call's content exceeds
// max_subcall_content_chars.
type SubcallContentError struct {
	ActualChars int
	Limit       int
}

func (e *SubcallContentError) Error() string {
	return fmt.Sprintf("llm_query content is %d chars, exceeds the %d char limit; chunk it into smaller calls", e.ActualChars, e.Limit)
}

// Result is the outcome of one orchestrated query.
type Result struct {
	Answer           string
	Outcome          Outcome
	Iterations       int
	PromptTokens     int
	CompletionTokens int

	// MechanicalVerification is populated when VerifyCitations is set and
	// Outcome is OutcomeFinal: the program runs in the same executor that
	// produced FINAL, before that executor's namespace is reset.
	MechanicalVerification *verify.Result
}

var codeFencePattern = regexp.MustCompile("(?s)```(?:repl|python)\\n(.*?)```")

// extractCode concatenates every fenced repl/python code block in source
// order. Returns "", false if none are present.
func extractCode(response string) (string, bool) {
	matches := codeFencePattern.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return "", false
	}
	var blocks []string
	for _, m := range matches {
		blocks = append(blocks, m[1])
	}
	return strings.Join(blocks, "\n"), true
}

// Orchestrator runs the iteration loop for one query. A new Orchestrator is
// constructed per query (it is not safe to share across concurrent calls to
// Run) — the reusable, concurrency-safe collaborators are Pool/Provider.
type Orchestrator struct {
	Provider provider.Provider
	Model    string
	Builder  *prompt.Builder

	// Pool is used when set; Executor is used directly (no re-acquire on
	// death) when Pool is nil.
	Pool     *sandbox.Pool
	Executor sandbox.Executor

	MaxIterations          int
	MaxSubcallContentChars int
	ExecuteTimeout         time.Duration
	REPLOutputTruncation   int
	RetryConfig            retry.Config

	// VerifyCitations, when set, runs mechanical citation/quote verification
	// against the FINAL-producing executor before it is reset and released.
	VerifyCitations bool
	VerifyTimeout   time.Duration

	Tracer *trace.Writer
	Logger *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) recordStep(iteration int, stepType trace.StepType, content string, tokensUsed, durationMs int) {
	if o.Tracer != nil {
		o.Tracer.Step(iteration, stepType, content, tokensUsed, durationMs)
	}
}

// Run executes the full orchestrator loop over documents for question.
func (o *Orchestrator) Run(ctx context.Context, documents []string, docNames []string, question string) (Result, error) {
	executor, fromPool, err := o.acquireExecutor(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: acquire executor: %w", err)
	}

	if err := executor.SetupContext(ctx, documents); err != nil {
		return Result{}, fmt.Errorf("orchestrator: setup context: %w", err)
	}

	var docSizes []prompt.DocSize
	for i, d := range documents {
		name := fmt.Sprintf("doc_%d", i)
		if i < len(docNames) && docNames[i] != "" {
			name = docNames[i]
		}
		docSizes = append(docSizes, prompt.DocSize{Name: name, CharCount: len(d)})
	}

	history := []provider.Message{
		{Role: "system", Content: o.Builder.BuildSystemPrompt(docSizes)},
		{Role: "user", Content: question},
	}

	result := Result{}
	defer func() {
		if !fromPool {
			return
		}
		// Namespace reset is the engine's responsibility before release.
		if err := executor.ResetNamespace(ctx); err != nil {
			o.logger().Warn("orchestrator: namespace reset failed, discarding executor", "error", err)
			o.Pool.Discard(executor)
			_ = executor.Stop(ctx)
			return
		}
		o.Pool.Release(executor)
	}()

	for iteration := 0; iteration < o.MaxIterations; iteration++ {
		completion, err := retry.Do(ctx, o.RetryConfig, nil, func(ctx context.Context) (provider.Completion, error) {
			return o.Provider.Complete(ctx, history, o.Model)
		})
		if err != nil {
			o.recordStep(iteration, trace.StepError, err.Error(), -1, -1)
			result.Outcome = OutcomeError
			result.Answer = fmt.Sprintf("the outer model call failed: %v", err)
			result.Iterations = iteration + 1
			return result, nil
		}

		result.PromptTokens += completion.Usage.PromptTokens
		result.CompletionTokens += completion.Usage.CompletionTokens
		if o.Tracer != nil {
			o.Tracer.RecordTokens(completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
		}
		o.recordStep(iteration, trace.StepCodeGenerated, completion.Text, completion.Usage.PromptTokens+completion.Usage.CompletionTokens, -1)

		history = append(history, provider.Message{Role: "assistant", Content: completion.Text})

		code, found := extractCode(completion.Text)
		if !found {
			o.recordStep(iteration, trace.StepCodeOutput, "no code found in outer model response", -1, -1)
			history = append(history, provider.Message{Role: "user", Content: o.Builder.BuildCodeRequiredPrompt()})
			continue
		}

		executed, execErr := executor.Execute(ctx, code, o.ExecuteTimeout, o.makeQueryHandler(iteration))
		if execErr != nil {
			o.recordStep(iteration, trace.StepError, execErr.Error(), -1, -1)
			history = append(history, provider.Message{Role: "user", Content: prompt.WrapREPLOutput(execErr.Error(), o.replTruncation())})
		} else {
			combined := executed.Stdout
			if executed.Stderr != "" {
				combined += "\n--- stderr ---\n" + executed.Stderr
			}
			o.recordStep(iteration, trace.StepCodeOutput, combined, -1, -1)
			history = append(history, provider.Message{Role: "user", Content: prompt.WrapREPLOutput(combined, o.replTruncation())})
		}

		if execErr == nil && executed.HasFinal() {
			answer := executed.FinalAnswer
			if answer == "" {
				answer = executed.FinalValue
			}
			o.recordStep(iteration, trace.StepFinalAnswer, answer, -1, -1)
			result.Answer = answer
			result.Outcome = OutcomeFinal
			result.Iterations = iteration + 1
			if o.VerifyCitations {
				// Must run before the deferred ResetNamespace/Release above
				// fires on return: that defer wipes context, and the whole
				// point of mechanical verification is resolving context[_id]
				// lookups against the documents this executor was set up
				// with.
				result.MechanicalVerification = o.runMechanicalVerification(ctx, executor, answer, iteration)
			}
			return result, nil
		}

		if !executor.IsAlive() {
			if !fromPool {
				result.Answer = "the sandbox executor died and no pool is configured to recover"
				result.Outcome = OutcomeExecutorDied
				result.Iterations = iteration + 1
				return result, nil
			}

			o.Pool.Discard(executor)
			_ = executor.Stop(ctx)
			next, err := o.Pool.Acquire(ctx)
			if err != nil {
				result.Answer = fmt.Sprintf("the sandbox executor died and a replacement could not be acquired: %v", err)
				result.Outcome = OutcomeExecutorDied
				result.Iterations = iteration + 1
				return result, nil
			}
			executor = next
			if err := executor.SetupContext(ctx, documents); err != nil {
				result.Answer = fmt.Sprintf("replacement executor setup failed: %v", err)
				result.Outcome = OutcomeExecutorDied
				result.Iterations = iteration + 1
				return result, nil
			}
			continue
		}

		if iteration+1 == o.MaxIterations {
			result.Answer = "max iterations exceeded"
			result.Outcome = OutcomeMaxIters
			result.Iterations = iteration + 1
			return result, nil
		}
	}

	result.Answer = "max iterations exceeded"
	result.Outcome = OutcomeMaxIters
	result.Iterations = o.MaxIterations
	return result, nil
}

// runMechanicalVerification builds and runs the citation/quote existence
// check in executor — which must be the same instance that just produced
// FINAL, with its context still bound. Failure modes never block the
// answer: they are recorded on the trace and verification is left nil.
func (o *Orchestrator) runMechanicalVerification(ctx context.Context, executor sandbox.Executor, answer string, iteration int) *verify.Result {
	citations := verify.ExtractCitations(answer)
	quotes := verify.ExtractQuotes(answer)
	if len(citations) == 0 && len(quotes) == 0 {
		return nil
	}

	timeout := o.VerifyTimeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}

	program := verify.BuildVerificationProgram(citations, quotes)
	executed, err := executor.Execute(ctx, program, timeout, nil)
	if err != nil || !executed.Succeeded() {
		o.recordStep(iteration, trace.StepVerification, fmt.Sprintf("mechanical verification execution failed: %v", err), -1, -1)
		return nil
	}

	parsed, err := verify.ParseVerificationOutput(executed.Stdout)
	if err != nil {
		o.recordStep(iteration, trace.StepVerification, fmt.Sprintf("mechanical verification unparseable: %v", err), -1, -1)
		return nil
	}

	o.recordStep(iteration, trace.StepVerification, fmt.Sprintf("all_valid=%v", parsed.AllValid()), -1, -1)
	return &parsed
}

func (o *Orchestrator) replTruncation() int {
	if o.REPLOutputTruncation > 0 {
		return o.REPLOutputTruncation
	}
	return prompt.DefaultREPLOutputTruncation
}

func (o *Orchestrator) acquireExecutor(ctx context.Context) (sandbox.Executor, bool, error) {
	if o.Pool != nil {
		ex, err := o.Pool.Acquire(ctx)
		return ex, true, err
	}
	if o.Executor == nil {
		return nil, false, errors.New("orchestrator: no pool and no executor configured")
	}
	return o.Executor, false, nil
}

// makeQueryHandler builds the llm_query callback invoked re-entrantly by
// the executor while code is running.
func (o *Orchestrator) makeQueryHandler(iteration int) sandbox.QueryHandler {
	return func(ctx context.Context, instruction, content string) (string, error) {
		if len(content) > o.MaxSubcallContentChars {
			err := &SubcallContentError{ActualChars: len(content), Limit: o.MaxSubcallContentChars}
			o.recordStep(iteration, trace.StepError, err.Error(), -1, -1)
			return "", err
		}

		rendered := o.Builder.BuildSubcallPrompt(instruction, content)
		completion, err := retry.Do(ctx, o.RetryConfig, nil, func(ctx context.Context) (provider.Completion, error) {
			return o.Provider.Complete(ctx, []provider.Message{{Role: "user", Content: rendered}}, o.Model)
		})
		if err != nil {
			o.recordStep(iteration, trace.StepError, err.Error(), -1, -1)
			return "", err
		}

		if o.Tracer != nil {
			o.Tracer.RecordTokens(completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
		}
		o.recordStep(iteration, trace.StepCodeOutput, "subcall: "+instruction, completion.Usage.PromptTokens+completion.Usage.CompletionTokens, -1)
		return completion.Text, nil
	}
}
