package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TemplateSet holds the rendered (but not yet substituted) body of every
// loaded template, validated against Schemas.
type TemplateSet struct {
	bodies map[string]string
}

// Load reads system.md and subcall.md (mandatory), plus code_required.md,
// verify_adversarial.md, and verify_code.md (optional) from dir. Missing
// optional files fall back to the built-in defaults; missing mandatory
// files are an error. Every present template is validated.
func Load(dir string) (*TemplateSet, error) {
	ts := &TemplateSet{bodies: make(map[string]string)}

	mandatory := []string{System, Subcall}
	optional := []string{CodeRequired, VerifyAdversarial, VerifyCode}

	for _, name := range mandatory {
		body, err := readOrDefault(dir, name, true)
		if err != nil {
			return nil, err
		}
		if err := Validate(name, body); err != nil {
			return nil, err
		}
		ts.bodies[name] = body
	}

	for _, name := range optional {
		body, err := readOrDefault(dir, name, false)
		if err != nil {
			return nil, err
		}
		if body == "" {
			continue
		}
		if err := Validate(name, body); err != nil {
			return nil, err
		}
		ts.bodies[name] = body
	}

	return ts, nil
}

// LoadDefaults builds a TemplateSet from the built-in bodies alone, useful
// for tests and for the common case where no custom prompts_dir is set.
func LoadDefaults() *TemplateSet {
	ts := &TemplateSet{bodies: make(map[string]string, len(defaultTemplates))}
	for name, body := range defaultTemplates {
		ts.bodies[name] = body
	}
	return ts
}

func readOrDefault(dir, name string, mandatory bool) (string, error) {
	if dir != "" {
		path := filepath.Join(dir, name)
		if b, err := os.ReadFile(path); err == nil {
			return string(b), nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("prompt: read %s: %w", path, err)
		}
	}
	body, ok := defaultTemplates[name]
	if !ok {
		if mandatory {
			return "", fmt.Errorf("prompt: mandatory template %q not found in %q and has no default", name, dir)
		}
		return "", nil
	}
	return body, nil
}

// Has reports whether a template (custom or default) is loaded.
func (ts *TemplateSet) Has(name string) bool {
	_, ok := ts.bodies[name]
	return ok
}

// Builder renders the mandatory and optional prompts from a loaded
// TemplateSet. It is stateless aside from the template bodies, mirroring
// a conventional prompt-builder-struct shape.
type Builder struct {
	templates *TemplateSet
}

// NewBuilder wraps ts.
func NewBuilder(ts *TemplateSet) *Builder {
	return &Builder{templates: ts}
}

// DocSize is one row of the system prompt's document-size listing.
type DocSize struct {
	Name      string
	CharCount int
}

// BuildSystemPrompt renders system.md with the corpus summary.
func (b *Builder) BuildSystemPrompt(docs []DocSize) string {
	total := 0
	var sizeLines []string
	for _, d := range docs {
		total += d.CharCount
		sizeLines = append(sizeLines, fmt.Sprintf("- %s (%d chars)", d.Name, d.CharCount))
	}
	values := map[string]string{
		"doc_count":         strconv.Itoa(len(docs)),
		"total_chars":       strconv.Itoa(total),
		"doc_sizes_list":    strings.Join(sizeLines, "\n"),
		"max_subcall_chars": strconv.Itoa(MaxSubcallChars),
	}
	return Render(b.templates.bodies[System], values)
}

// BuildSubcallPrompt renders subcall.md, with content always additionally
// wrapped in the untrusted-content tags regardless of the template body
// (a defence-in-depth requirement).
func (b *Builder) BuildSubcallPrompt(instruction, content string) string {
	values := map[string]string{
		"instruction": instruction,
		"content":     WrapSubcallContent(content),
	}
	return Render(b.templates.bodies[Subcall], values)
}

// BuildCodeRequiredPrompt renders the optional nudge template, or "" if
// absent.
func (b *Builder) BuildCodeRequiredPrompt() string {
	return b.templates.bodies[CodeRequired]
}

// HasVerifyAdversarial reports whether verify_adversarial.md is loaded.
func (b *Builder) HasVerifyAdversarial() bool { return b.templates.Has(VerifyAdversarial) }

// HasVerifyCode reports whether verify_code.md is loaded.
func (b *Builder) HasVerifyCode() bool { return b.templates.Has(VerifyCode) }

// BuildVerifyAdversarialPrompt renders verify_adversarial.md.
func (b *Builder) BuildVerifyAdversarialPrompt(findings, documents string) string {
	return Render(b.templates.bodies[VerifyAdversarial], map[string]string{
		"findings":  findings,
		"documents": documents,
	})
}

// BuildVerifyCodePrompt renders verify_code.md.
func (b *Builder) BuildVerifyCodePrompt(previousResults, findings, documents string) string {
	return Render(b.templates.bodies[VerifyCode], map[string]string{
		"previous_results": previousResults,
		"findings":         findings,
		"documents":        documents,
	})
}
