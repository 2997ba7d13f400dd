// Package verify implements the two-stage citation verification pipeline:
// mechanical (C8, regex extraction + in-sandbox existence checks) and
// semantic (C9, LLM-based adversarial claim review).
package verify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Citation is one extracted `context[N]`-style reference, resolved against
// the sandbox's bound documents.
type Citation struct {
	DocID int  `json:"doc_id"`
	Found bool `json:"found"`
}

// Quote is one extracted quoted span of at least MinQuoteLength characters.
type Quote struct {
	Text  string `json:"text"`
	DocID int    `json:"doc_id"` // -1 when not located in any cited document
	Found bool   `json:"found"`
}

// Result is the outcome of mechanical verification: a citation/quote is
// jointly valid only if every one of them was found.
type Result struct {
	Citations []Citation `json:"citations"`
	Quotes    []Quote    `json:"quotes"`
}

// AllValid reports whether every citation and quote was found.
func (r Result) AllValid() bool {
	for _, c := range r.Citations {
		if !c.Found {
			return false
		}
	}
	for _, q := range r.Quotes {
		if !q.Found {
			return false
		}
	}
	return true
}

// MinQuoteLength is the minimum length (inclusive) a quoted span must have
// to be extracted as a citation-verification candidate.
const MinQuoteLength = 10

// quoteTruncateLength is the length extracted quotes are truncated to
// before the in-sandbox substring search, allowing fuzzy matching of long
// quotes that the model paraphrased slightly past this point.
const quoteTruncateLength = 60

// citationPatterns are applied, in this fixed order, to the answer text.
// Matches across all four patterns are pooled and sorted by byte offset
// before deduplication — a per-pattern dedupe would not preserve true
// first-appearance order when patterns overlap the same span of text.
var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bDoc\s+\*\*(\d+)\*\*`),
	regexp.MustCompile(`\bDoc\s+(\d+)\b`),
	regexp.MustCompile(`\bcontext\[(\d+)\]`),
	regexp.MustCompile(`(?:^|[^\w])\*\*(\d+)\*\*(?:[^\w]|$)`),
}

type citationMatch struct {
	docID int
	pos   int
}

// ExtractCitations returns the doc IDs referenced in answer, deduplicated
// and ordered by first appearance across all four citation patterns.
func ExtractCitations(answer string) []int {
	var matches []citationMatch
	for _, pat := range citationPatterns {
		for _, loc := range pat.FindAllStringSubmatchIndex(answer, -1) {
			// loc[2]/loc[3] bound the first capture group (the digits).
			idStr := answer[loc[2]:loc[3]]
			var id int
			if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
				continue
			}
			matches = append(matches, citationMatch{docID: id, pos: loc[0]})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	seen := make(map[int]bool, len(matches))
	var out []int
	for _, m := range matches {
		if seen[m.docID] {
			continue
		}
		seen[m.docID] = true
		out = append(out, m.docID)
	}
	return out
}

// quotePatterns match double-quoted and backtick-delimited spans.
var quotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]{10,})"`),
	regexp.MustCompile("`([^`]{10,})`"),
}

type quoteMatch struct {
	text string
	pos  int
}

// ExtractQuotes returns quoted spans of at least MinQuoteLength characters
// found in answer, deduplicated by text and ordered by first appearance.
func ExtractQuotes(answer string) []string {
	var matches []quoteMatch
	for _, pat := range quotePatterns {
		for _, loc := range pat.FindAllStringSubmatchIndex(answer, -1) {
			text := answer[loc[2]:loc[3]]
			if len(text) < MinQuoteLength {
				continue
			}
			matches = append(matches, quoteMatch{text: text, pos: loc[0]})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m.text] {
			continue
		}
		seen[m.text] = true
		out = append(out, m.text)
	}
	return out
}

// BuildVerificationProgram synthesises a self-contained sandbox program
// that resolves every citation against `context` and case-insensitively
// substring-searches every cited document for every quote (truncated to
// quoteTruncateLength characters), emitting a single JSON object
// {"citations": [...], "quotes": [...]} on stdout. The program is run in
// the same executor that produced FINAL, so `context` is still bound.
func BuildVerificationProgram(citations []int, quotes []string) string {
	citIDs, _ := json.Marshal(citations)
	truncated := make([]string, len(quotes))
	for i, q := range quotes {
		if len(q) > quoteTruncateLength {
			truncated[i] = q[:quoteTruncateLength]
		} else {
			truncated[i] = q
		}
	}
	quoteList, _ := json.Marshal(truncated)

	var b strings.Builder
	b.WriteString("import json\n")
	fmt.Fprintf(&b, "_citation_ids = %s\n", citIDs)
	fmt.Fprintf(&b, "_quotes = %s\n", quoteList)
	b.WriteString(`
_citations_out = []
for _id in _citation_ids:
    try:
        context[_id]
        _citations_out.append({"doc_id": _id, "found": True})
    except Exception:
        _citations_out.append({"doc_id": _id, "found": False})

_quotes_out = []
for _q in _quotes:
    _found_doc = -1
    _needle = _q.lower()
    for _id in _citation_ids:
        try:
            _doc = context[_id]
        except Exception:
            continue
        if _needle in _doc.lower():
            _found_doc = _id
            break
    _quotes_out.append({"text": _q, "doc_id": _found_doc, "found": _found_doc != -1})

print(json.dumps({"citations": _citations_out, "quotes": _quotes_out}))
`)
	return b.String()
}

// ParseVerificationOutput parses the JSON object emitted on stdout by the
// program built with BuildVerificationProgram.
func ParseVerificationOutput(stdout string) (Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &res); err != nil {
		return Result{}, fmt.Errorf("verify: unparseable verification output: %w", err)
	}
	return res, nil
}
