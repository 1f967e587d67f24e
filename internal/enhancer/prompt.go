package enhancer

import (
	"os"

	"gopkg.in/yaml.v3"

	"chatvector/internal/errs"
)

// Prompt is the externally configured system prompt and model parameters
// for the enhancer's single LLM call (spec §4.5: "loaded from external
// configuration, not hard-coded").
type Prompt struct {
	System      string  `yaml:"system"`
	Model       string  `yaml:"model"`
	MaxTokens   int64   `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

const (
	defaultModel     = "claude-3-7-sonnet-latest"
	defaultMaxTokens = int64(512)
	// pinnedTemperature overrides whatever the prompt file specifies; the
	// enhancer must be near-deterministic across retries (spec §4.5).
	pinnedTemperature = 0.1
)

// LoadPrompt reads and parses the enhancer prompt file at path.
func LoadPrompt(path string) (Prompt, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompt{}, errs.Wrap(errs.KindConfig, false, err, "read enhancer prompt file %s", path)
	}
	var p Prompt
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Prompt{}, errs.Wrap(errs.KindConfig, false, err, "parse enhancer prompt file %s", path)
	}
	if p.System == "" {
		return Prompt{}, errs.New(errs.KindConfig, false, "enhancer prompt file %s missing required 'system' field", path)
	}
	if p.Model == "" {
		p.Model = defaultModel
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}
	p.Temperature = pinnedTemperature
	return p, nil
}
