package enhancer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrictJSON_AcceptsWellFormedObject(t *testing.T) {
	out, ok := parseStrictJSON(`{"enhanced_text":"deploy failures last week","top_k":5,"intent":"problem"}`)
	require.True(t, ok)
	assert.Equal(t, "deploy failures last week", out.EnhancedText)
	assert.Equal(t, 5, out.TopK)
	assert.Equal(t, IntentProblem, out.Intent)
}

func TestParseStrictJSON_StripsSurroundingProse(t *testing.T) {
	out, ok := parseStrictJSON("here is the json: {\"enhanced_text\":\"x\",\"top_k\":3} thanks")
	require.True(t, ok)
	assert.Equal(t, "x", out.EnhancedText)
}

func TestParseStrictJSON_RejectsNonJSON(t *testing.T) {
	_, ok := parseStrictJSON("sorry, I can't help with that")
	assert.False(t, ok)
}

func TestParseStrictJSON_RejectsMissingEnhancedText(t *testing.T) {
	_, ok := parseStrictJSON(`{"top_k":5}`)
	assert.False(t, ok)
}

func TestLoadPrompt_PinsTemperature(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/prompt.yaml"
	writeFile(t, path, "system: \"you are a query rewriter\"\nmodel: claude-3-7-sonnet-latest\ntemperature: 0.9\n")

	p, err := LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, pinnedTemperature, p.Temperature)
}

func TestLoadPrompt_RequiresSystemField(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/prompt.yaml"
	writeFile(t, path, "model: claude-3-7-sonnet-latest\n")

	_, err := LoadPrompt(path)
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test fixture: %v", err)
	}
}
