package prompt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rlmengine/pkg/prompt"
)

func TestExtractPlaceholders_IgnoresEscapedBraces(t *testing.T) {
	got := prompt.ExtractPlaceholders("{{literal}} and {real_one} and {{another}}")
	assert.Equal(t, map[string]bool{"real_one": true}, got)
}

func TestExtractPlaceholders_WithFormatSpec(t *testing.T) {
	got := prompt.ExtractPlaceholders("value is {count:d}")
	assert.Equal(t, map[string]bool{"count": true}, got)
}

func TestValidate_MissingRequiredFails(t *testing.T) {
	err := prompt.Validate(prompt.System, "only {doc_count} here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total_chars")
}

func TestValidate_UnknownPlaceholderFails(t *testing.T) {
	body := "{doc_count} {total_chars} {doc_sizes_list} {max_subcall_chars} {bogus}"
	err := prompt.Validate(prompt.System, body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestValidate_SubcallMustContainUntrustedTags(t *testing.T) {
	err := prompt.Validate(prompt.Subcall, "{instruction} {content}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "untrusted")
}

func TestValidate_SubcallWithTagsPasses(t *testing.T) {
	body := prompt.UntrustedContentOpenTag + "{instruction} {content}" + prompt.UntrustedContentCloseTag
	assert.NoError(t, prompt.Validate(prompt.Subcall, body))
}

func TestRender_SubstitutesAndUnescapes(t *testing.T) {
	out := prompt.Render("count={n} literal={{n}}", map[string]string{"n": "5"})
	assert.Equal(t, "count=5 literal={n}", out)
}

func TestRender_UnresolvedPlaceholderLeftLiteral(t *testing.T) {
	out := prompt.Render("{known} {unknown}", map[string]string{"known": "x"})
	assert.Equal(t, "x {unknown}", out)
}

func TestWrapREPLOutput_TruncatesWithMarker(t *testing.T) {
	out := prompt.WrapREPLOutput("0123456789", 5)
	assert.Contains(t, out, "01234")
	assert.Contains(t, out, "truncated, 5 chars omitted")
	assert.Contains(t, out, prompt.UntrustedContentOpenTag)
	assert.Contains(t, out, prompt.UntrustedContentCloseTag)
}

func TestWrapREPLOutput_NoTruncationBelowCap(t *testing.T) {
	out := prompt.WrapREPLOutput("short", 100)
	assert.NotContains(t, out, "truncated")
}

func TestWrapSubcallContent_AlwaysWraps(t *testing.T) {
	out := prompt.WrapSubcallContent("already " + prompt.UntrustedContentOpenTag + "wrapped" + prompt.UntrustedContentCloseTag)
	// Defence in depth: the engine wraps again regardless.
	assert.Equal(t, 2, countOccurrences(out, prompt.UntrustedContentOpenTag))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}

func TestBuilder_BuildSystemPrompt(t *testing.T) {
	ts := prompt.LoadDefaults()
	b := prompt.NewBuilder(ts)
	out := b.BuildSystemPrompt([]prompt.DocSize{{Name: "a.txt", CharCount: 10}, {Name: "b.txt", CharCount: 5}})
	assert.Contains(t, out, "15")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "b.txt")
	assert.NotContains(t, out, "{doc_count}")
}

func TestBuilder_BuildSubcallPrompt_AlwaysTagged(t *testing.T) {
	ts := prompt.LoadDefaults()
	b := prompt.NewBuilder(ts)
	out := b.BuildSubcallPrompt("summarize", "raw content")
	assert.Contains(t, out, prompt.UntrustedContentOpenTag)
	assert.Contains(t, out, prompt.UntrustedContentCloseTag)
	assert.Contains(t, out, "raw content")
}

func TestLoad_CustomDirOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	custom := "{doc_count} {total_chars} {doc_sizes_list} {max_subcall_chars} CUSTOM_MARKER"
	require.NoError(t, os.WriteFile(filepath.Join(dir, prompt.System), []byte(custom), 0o644))

	ts, err := prompt.Load(dir)
	require.NoError(t, err)
	b := prompt.NewBuilder(ts)
	out := b.BuildSystemPrompt(nil)
	assert.Contains(t, out, "CUSTOM_MARKER")
}

func TestLoad_MissingMandatoryWithNoDefaultErrors(t *testing.T) {
	// system.md and subcall.md both have built-in defaults, so Load never
	// actually fails for them; this test documents that guarantee.
	ts, err := prompt.Load(t.TempDir())
	require.NoError(t, err)
	assert.True(t, ts.Has(prompt.System))
	assert.True(t, ts.Has(prompt.Subcall))
}

func TestLoad_InvalidCustomTemplateRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, prompt.Subcall), []byte("{instruction} {content} no tags"), 0o644))

	_, err := prompt.Load(dir)
	require.Error(t, err)
}
