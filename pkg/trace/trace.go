// Package trace implements the append-only JSONL query trace: a header
// line, one line per orchestrator step, and a terminating summary line
// that is synthesised with an interrupted/error status even when the
// query does not finish normally.
package trace

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepType enumerates the trace step kinds a query can emit.
type StepType string

const (
	StepCodeGenerated        StepType = "CODE_GENERATED"
	StepCodeOutput           StepType = "CODE_OUTPUT"
	StepFinalAnswer          StepType = "FINAL_ANSWER"
	StepVerification         StepType = "VERIFICATION"
	StepSemanticVerification StepType = "SEMANTIC_VERIFICATION"
	StepError                StepType = "ERROR"
)

// Status is the terminal state recorded in a trace's summary line.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusInterrupted Status = "interrupted"
	StatusError       Status = "error"
)

type headerLine struct {
	Type         string   `json:"type"`
	TraceID      string   `json:"trace_id"`
	StartedAt    string   `json:"started_at"`
	Question     string   `json:"question"`
	DocumentRefs []string `json:"document_refs"`
	Model        string   `json:"model"`
}

type stepLine struct {
	Type       string  `json:"type"`
	Iteration  int     `json:"iteration"`
	StepType   string  `json:"step_type"`
	Content    string  `json:"content"`
	Timestamp  float64 `json:"timestamp"`
	TokensUsed *int    `json:"tokens_used,omitempty"`
	DurationMs *int    `json:"duration_ms,omitempty"`
}

type summaryLine struct {
	Type             string `json:"type"`
	Status           string `json:"status"`
	ElapsedMs        int64  `json:"elapsed_ms"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Writer owns one trace's JSONL file for the duration of a single query.
// Every write method swallows I/O failures (logged as warnings) per
// suppress_errors=true — a broken trace must never fail or block a query.
type Writer struct {
	mu               sync.Mutex
	file             *os.File
	logger           *slog.Logger
	traceID          string
	startedAt        time.Time
	promptTokens     int
	completionTokens int
	finished         bool
}

// New creates trace_id's JSONL file under dir and writes the header line.
// traceID is generated if empty.
func New(dir, traceID, question string, documentRefs []string, model string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	w := &Writer{logger: logger, traceID: traceID, startedAt: time.Now()}

	path := filepath.Join(dir, traceID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.logger.Warn("trace: failed to open trace file", "path", path, "error", err)
		return w
	}
	w.file = f

	header := headerLine{
		Type:         "header",
		TraceID:      traceID,
		StartedAt:    w.startedAt.UTC().Format(time.RFC3339),
		Question:     question,
		DocumentRefs: documentRefs,
		Model:        model,
	}
	w.writeLine(header)
	return w
}

// TraceID returns the trace's id.
func (w *Writer) TraceID() string { return w.traceID }

// Step appends a step line. tokensUsed/durationMs of -1 are omitted.
func (w *Writer) Step(iteration int, stepType StepType, content string, tokensUsed, durationMs int) {
	line := stepLine{
		Type:      "step",
		Iteration: iteration,
		StepType:  string(stepType),
		Content:   content,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	if tokensUsed >= 0 {
		line.TokensUsed = &tokensUsed
	}
	if durationMs >= 0 {
		line.DurationMs = &durationMs
	}

	w.writeLine(line)
}

// RecordTokens accumulates token usage across the query for the summary
// line's totals.
func (w *Writer) RecordTokens(promptTokens, completionTokens int) {
	w.mu.Lock()
	w.promptTokens += promptTokens
	w.completionTokens += completionTokens
	w.mu.Unlock()
}

// Finish writes the terminating summary line with the given status. It is
// idempotent: only the first call takes effect, matching "ends with
// exactly one summary".
func (w *Writer) Finish(status Status) {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return
	}
	w.finished = true
	summary := summaryLine{
		Type:             "summary",
		Status:           string(status),
		ElapsedMs:        time.Since(w.startedAt).Milliseconds(),
		PromptTokens:     w.promptTokens,
		CompletionTokens: w.completionTokens,
	}
	w.mu.Unlock()

	w.writeLine(summary)
	w.close()
}

// Close is a scope-guard convenience: if Finish was never called (an
// uncaught exception or cooperative cancellation unwound the call stack
// without an explicit terminal status), it synthesises an interrupted
// summary before closing. Callers should `defer writer.Close()` immediately
// after New, mirroring a scoped-acquisition pattern.
func (w *Writer) Close() {
	w.mu.Lock()
	alreadyFinished := w.finished
	w.mu.Unlock()
	if alreadyFinished {
		return
	}
	w.Finish(StatusInterrupted)
}

func (w *Writer) writeLine(v any) {
	w.mu.Lock()
	f := w.file
	w.mu.Unlock()
	if f == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.logger.Warn("trace: failed to marshal line", "error", err)
		return
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		w.logger.Warn("trace: failed to write line", "error", err)
	}
}

func (w *Writer) close() {
	w.mu.Lock()
	f := w.file
	w.file = nil
	w.mu.Unlock()
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		w.logger.Warn("trace: failed to close trace file", "error", err)
	}
}

// CleanupOldTraces deletes the oldest *.jsonl files under dir beyond
// maxTraces, keyed by modification time. Called after a successful query;
// I/O failures are logged and swallowed, never propagated.
func CleanupOldTraces(dir string, maxTraces int, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTraces <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("trace: cleanup readdir failed", "dir", dir, "error", err)
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	if len(files) <= maxTraces {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	excess := len(files) - maxTraces
	for _, f := range files[:excess] {
		if err := os.Remove(f.path); err != nil {
			logger.Warn("trace: cleanup remove failed", "path", f.path, "error", err)
		}
	}
}
