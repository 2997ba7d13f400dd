package prompt

import "fmt"

// MaxSubcallChars is the prompt-builder-facing size the system prompt
// advertises as the inner model's effective context budget. It is distinct
// from the engine's max_subcall_content_chars config knob, which gates the
// llm_query guard itself.
const MaxSubcallChars = 500_000

// DefaultREPLOutputTruncation is the default cap applied by
// WrapREPLOutput before a truncation marker is appended.
const DefaultREPLOutputTruncation = 50_000

// WrapREPLOutput truncates output to maxChars (if positive) and wraps it in
// the untrusted-content tags so the outer model treats sandbox stdout/
// stderr as untrusted, potentially adversarial data.
func WrapREPLOutput(output string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultREPLOutputTruncation
	}
	body := output
	if len(body) > maxChars {
		omitted := len(body) - maxChars
		body = body[:maxChars] + fmt.Sprintf("... [truncated, %d chars omitted]", omitted)
	}
	return UntrustedContentOpenTag + body + UntrustedContentCloseTag
}

// WrapSubcallContent always wraps content in the untrusted-content tags
// before it reaches the inner model, even if a custom subcall.md template
// already does — this is deliberate defence-in-depth.
func WrapSubcallContent(content string) string {
	return UntrustedContentOpenTag + content + UntrustedContentCloseTag
}
