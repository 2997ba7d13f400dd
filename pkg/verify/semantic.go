package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/rlmengine/pkg/prompt"
	"github.com/codeready-toolchain/rlmengine/pkg/provider"
)

// ContentType classifies a corpus as predominantly code or general prose,
// which decides whether Layer 2 (code-specific re-review) runs.
type ContentType string

const (
	ContentCode    ContentType = "code"
	ContentGeneral ContentType = "general"
)

// CodeExtensions is the closed set of file suffixes (without the leading
// dot) that count as "code" for content-type detection.
var CodeExtensions = map[string]bool{
	"py": true, "pl": true, "pm": true, "t": true, "js": true, "ts": true,
	"jsx": true, "tsx": true, "mjs": true, "cjs": true, "rs": true, "go": true,
	"java": true, "rb": true, "c": true, "cpp": true, "h": true, "hpp": true,
	"cc": true, "cs": true, "swift": true, "kt": true, "scala": true, "clj": true,
	"ex": true, "exs": true, "sh": true, "bash": true, "zsh": true, "ps1": true,
	"sql": true, "r": true, "m": true, "mm": true, "lua": true, "vim": true,
	"el": true, "hs": true, "php": true, "dart": true, "v": true, "zig": true,
}

// DetectContentType reports ContentCode when a strict majority of docNames
// carry a known code extension, ContentGeneral otherwise (including ties).
func DetectContentType(docNames []string) ContentType {
	if len(docNames) == 0 {
		return ContentGeneral
	}
	codeCount := 0
	for _, name := range docNames {
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		if CodeExtensions[strings.ToLower(ext)] {
			codeCount++
		}
	}
	if codeCount*2 > len(docNames) {
		return ContentCode
	}
	return ContentGeneral
}

// GatherCitedDocuments joins the text of every cited document (skipping
// out-of-range IDs) into a single blob of "### Document N (name)" header
// blocks separated by "\n\n---\n\n", for inclusion in a verification
// prompt's {documents} placeholder.
func GatherCitedDocuments(citedIDs []int, docs []string, docNames []string) string {
	var blocks []string
	for _, id := range citedIDs {
		if id < 0 || id >= len(docs) {
			continue
		}
		name := fmt.Sprintf("doc_%d", id)
		if id < len(docNames) && docNames[id] != "" {
			name = docNames[id]
		}
		blocks = append(blocks, fmt.Sprintf("### Document %d (%s)\n\n%s", id, name, docs[id]))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// FindingVerification is one claim's adversarial-review outcome.
type FindingVerification struct {
	FindingID              string   `json:"finding_id"`
	OriginalClaim          string   `json:"original_claim"`
	Confidence             string   `json:"confidence"` // "high" | "medium" | "low"
	Reason                 string   `json:"reason"`
	EvidenceClassification string   `json:"evidence_classification"`
	Flags                  []string `json:"flags,omitempty"`
}

// Report is the outcome of semantic verification.
type Report struct {
	Findings []FindingVerification `json:"findings"`
}

// HighConfidence returns the findings whose confidence is "high".
func (r Report) HighConfidence() []FindingVerification {
	return r.filterConfidence("high")
}

// LowConfidence returns the findings whose confidence is "low".
func (r Report) LowConfidence() []FindingVerification {
	return r.filterConfidence("low")
}

func (r Report) filterConfidence(level string) []FindingVerification {
	var out []FindingVerification
	for _, f := range r.Findings {
		if f.Confidence == level {
			out = append(out, f)
		}
	}
	return out
}

type findingsEnvelope struct {
	Findings []FindingVerification `json:"findings"`
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// parseTolerant accepts the sub-model's response as bare JSON, as a fenced
// ```json block, or as the first line-prefixed object; unknown keys are
// ignored by json.Unmarshal's default behaviour, and a missing "findings"
// key is not itself an error (it decodes to an empty slice) but total
// parse failure across all three attempts is.
func parseTolerant(response string) (Report, error) {
	trimmed := strings.TrimSpace(response)

	candidates := []string{trimmed}
	if m := fencedJSONPattern.FindStringSubmatch(trimmed); m != nil {
		candidates = append([]string{strings.TrimSpace(m[1])}, candidates...)
	}
	if idx := strings.Index(trimmed, "{"); idx > 0 {
		candidates = append(candidates, trimmed[idx:])
	}

	var lastErr error
	for _, c := range candidates {
		var env findingsEnvelope
		if err := json.Unmarshal([]byte(c), &env); err == nil {
			return Report{Findings: env.Findings}, nil
		} else {
			lastErr = err
		}
	}
	return Report{}, fmt.Errorf("verify: semantic response unparseable: %w", lastErr)
}

// Verifier runs the two-layer semantic verification pipeline against a
// sub-model reached through provider.Provider.
type Verifier struct {
	Provider provider.Provider
	Model    string
	Builder  *prompt.Builder
}

// VerifyLayer1 renders verify_adversarial.md against the answer and its
// cited documents and parses the sub-model's findings.
func (v *Verifier) VerifyLayer1(ctx context.Context, answer, documents string) (Report, error) {
	if v.Builder == nil || !v.Builder.HasVerifyAdversarial() {
		return Report{}, fmt.Errorf("verify: verify_adversarial.md not loaded")
	}
	rendered := v.Builder.BuildVerifyAdversarialPrompt(answer, documents)
	completion, err := v.Provider.Complete(ctx, []provider.Message{{Role: "user", Content: rendered}}, v.Model)
	if err != nil {
		return Report{}, err
	}
	return parseTolerant(completion.Text)
}

// VerifyLayer2 re-examines Layer 1's findings with code-specific attention,
// only sensible when DetectContentType is ContentCode and Layer 1 produced
// at least one finding. Its result replaces Layer 1's list entirely.
func (v *Verifier) VerifyLayer2(ctx context.Context, layer1 Report, answer, documents string) (Report, error) {
	if v.Builder == nil || !v.Builder.HasVerifyCode() {
		return Report{}, fmt.Errorf("verify: verify_code.md not loaded")
	}
	previous, err := json.Marshal(layer1)
	if err != nil {
		return Report{}, fmt.Errorf("verify: marshal layer1 results: %w", err)
	}
	rendered := v.Builder.BuildVerifyCodePrompt(string(previous), answer, documents)
	completion, err := v.Provider.Complete(ctx, []provider.Message{{Role: "user", Content: rendered}}, v.Model)
	if err != nil {
		return Report{}, err
	}
	return parseTolerant(completion.Text)
}

// Verify runs the full two-layer pipeline, deciding whether Layer 2 runs
// based on content type and Layer 1's findings.
func (v *Verifier) Verify(ctx context.Context, answer string, citedIDs []int, docs, docNames []string) (Report, error) {
	documents := GatherCitedDocuments(citedIDs, docs, docNames)

	layer1, err := v.VerifyLayer1(ctx, answer, documents)
	if err != nil {
		return Report{}, err
	}

	if DetectContentType(docNames) != ContentCode || len(layer1.Findings) == 0 {
		return layer1, nil
	}
	if v.Builder == nil || !v.Builder.HasVerifyCode() {
		return layer1, nil
	}
	return v.VerifyLayer2(ctx, layer1, answer, documents)
}
