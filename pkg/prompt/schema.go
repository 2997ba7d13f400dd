// Package prompt builds and validates the system/subcall prompt templates
// the orchestrator renders on every outer- and inner-model call.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// UntrustedContentOpenTag and UntrustedContentCloseTag wrap untrusted
// document content before it reaches any model, as defence-in-depth
// against prompt injection.
const (
	UntrustedContentOpenTag  = "<untrusted_document_content>"
	UntrustedContentCloseTag = "</untrusted_document_content>"
)

// Well-known template names.
const (
	System             = "system.md"
	Subcall            = "subcall.md"
	CodeRequired       = "code_required.md"
	VerifyAdversarial  = "verify_adversarial.md"
	VerifyCode         = "verify_code.md"
)

// Schema declares which placeholders a template may and must contain.
type Schema struct {
	Required          []string
	Optional          []string
	MustContainTags   bool // subcall.md's untrusted-content tag requirement
}

// Schemas is the fixed placeholder contract table for every template.
var Schemas = map[string]Schema{
	System: {
		Required: []string{"doc_count", "total_chars", "doc_sizes_list", "max_subcall_chars"},
	},
	Subcall: {
		Required:        []string{"instruction", "content"},
		MustContainTags: true,
	},
	CodeRequired: {},
	VerifyAdversarial: {
		Required: []string{"findings", "documents"},
	},
	VerifyCode: {
		Required: []string{"previous_results", "findings", "documents"},
	},
}

// placeholderPattern matches `{name}` and `{name:format}` holes once `{{`
// and `}}` escapes have been stripped out.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)(?::[^}]*)?\}`)

// ExtractPlaceholders returns the set of distinct placeholder names found
// in text, ignoring escaped `{{`/`}}` braces.
func ExtractPlaceholders(text string) map[string]bool {
	unescaped := strings.NewReplacer("{{", "", "}}", "").Replace(text)
	matches := placeholderPattern.FindAllStringSubmatch(unescaped, -1)
	out := make(map[string]bool, len(matches))
	for _, m := range matches {
		out[m[1]] = true
	}
	return out
}

// ValidationError reports a template that violates its schema.
type ValidationError struct {
	Template string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("prompt: template %q invalid: %s", e.Template, e.Reason)
}

// Validate checks content against name's schema: every required
// placeholder must appear; no unknown placeholder may appear; subcall.md
// must literally contain both untrusted-content tags.
func Validate(name, content string) error {
	schema, ok := Schemas[name]
	if !ok {
		return nil // unknown template names are not validated here
	}

	found := ExtractPlaceholders(content)

	var missing []string
	for _, req := range schema.Required {
		if !found[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{Template: name, Reason: fmt.Sprintf("missing required placeholders: %s", strings.Join(missing, ", "))}
	}

	allowed := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, p := range schema.Required {
		allowed[p] = true
	}
	for _, p := range schema.Optional {
		allowed[p] = true
	}
	var unknown []string
	for p := range found {
		if !allowed[p] {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ValidationError{Template: name, Reason: fmt.Sprintf("unknown placeholders: %s", strings.Join(unknown, ", "))}
	}

	if schema.MustContainTags {
		if !strings.Contains(content, UntrustedContentOpenTag) || !strings.Contains(content, UntrustedContentCloseTag) {
			return &ValidationError{Template: name, Reason: "must literally contain untrusted-content open and close tags"}
		}
	}

	return nil
}

// escapedBraceSentinels stand in for `{{`/`}}` while placeholder
// substitution runs, so a real `{name}` hole is never confused with an
// escaped literal brace sitting next to it, then are converted back to a
// single literal `{`/`}` at the end.
const (
	openBraceSentinel  = "\x00RLM_OPEN_BRACE\x00"
	closeBraceSentinel = "\x00RLM_CLOSE_BRACE\x00"
)

// Render substitutes each {name} placeholder with values[name] and then
// collapses `{{`/`}}` escapes to literal `{`/`}`. Every required
// placeholder named in the template's schema must be present in values.
func Render(content string, values map[string]string) string {
	escaped := strings.NewReplacer("{{", openBraceSentinel, "}}", closeBraceSentinel).Replace(content)

	rendered := placeholderPattern.ReplaceAllStringFunc(escaped, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})

	return strings.NewReplacer(openBraceSentinel, "{", closeBraceSentinel, "}").Replace(rendered)
}
