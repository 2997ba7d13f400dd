package verify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rlmengine/pkg/verify"
)

func TestExtractCitations_DedupesAndPreservesFirstAppearance(t *testing.T) {
	answer := "See context[2] and also Doc **2** again, then Doc 0, then **1** noted."
	got := verify.ExtractCitations(answer)
	assert.Equal(t, []int{2, 0, 1}, got)
}

func TestExtractCitations_StandaloneBoldNotAdjacentToWordChars(t *testing.T) {
	answer := "price is **42**x not a citation, but **7** alone is."
	got := verify.ExtractCitations(answer)
	assert.Equal(t, []int{7}, got)
}

func TestExtractCitations_NoMatches(t *testing.T) {
	assert.Empty(t, verify.ExtractCitations("no references here"))
}

func TestExtractQuotes_MinLengthBoundary(t *testing.T) {
	// Exactly 10 chars is included, 9 is not (spec boundary behaviour).
	answer := `"0123456789" and "012345678"`
	got := verify.ExtractQuotes(answer)
	require.Len(t, got, 1)
	assert.Equal(t, "0123456789", got[0])
}

func TestExtractQuotes_BacktickAndDoubleQuoteDeduped(t *testing.T) {
	answer := "`hello world` then \"hello world\" then `hello world`"
	got := verify.ExtractQuotes(answer)
	assert.Equal(t, []string{"hello world"}, got)
}

func TestBuildVerificationProgram_EmitsJSONOutputCall(t *testing.T) {
	prog := verify.BuildVerificationProgram([]int{0, 1}, []string{"hello world example"})
	assert.Contains(t, prog, "json.dumps")
	assert.Contains(t, prog, "context[_id]")
}

func TestBuildVerificationProgram_QuoteSearchRestrictedToCitedDocs(t *testing.T) {
	// A fabricated quote that only appears in an uncited document must not
	// be reported found=true against the wrong doc_id: the generated
	// program must only ever index context by a citation id, never
	// enumerate the whole context.
	prog := verify.BuildVerificationProgram([]int{0, 1}, []string{"hello world example"})
	assert.NotContains(t, prog, "enumerate(context)")
	assert.Contains(t, prog, "for _id in _citation_ids:")
}

func TestParseVerificationOutput_HappyPath(t *testing.T) {
	out := `{"citations": [{"doc_id": 0, "found": true}], "quotes": [{"text": "hello world", "doc_id": 0, "found": true}]}`
	res, err := verify.ParseVerificationOutput(out)
	require.NoError(t, err)
	assert.True(t, res.AllValid())
	assert.Equal(t, 0, res.Citations[0].DocID)
}

func TestParseVerificationOutput_Unparseable(t *testing.T) {
	_, err := verify.ParseVerificationOutput("not json")
	assert.Error(t, err)
}

func TestResult_AllValidFalseOnAnyMiss(t *testing.T) {
	res := verify.Result{
		Citations: []verify.Citation{{DocID: 0, Found: true}},
		Quotes:    []verify.Quote{{Text: "fabricated passage", DocID: -1, Found: false}},
	}
	assert.False(t, res.AllValid())
}
