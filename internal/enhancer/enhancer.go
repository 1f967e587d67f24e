// Package enhancer implements the LLM-driven query expansion described in
// spec §4.5 (C5): a single call that turns a raw search query into
// structured filters plus a rewritten query text.
package enhancer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"chatvector/internal/logging"
	"chatvector/internal/ratelimit"
)

const (
	providerLLM = "llm"
	endpointLLM = "messages"

	fallbackTopK = 10
	callTimeout  = 15 * time.Second
)

// Intent is the enhancer's classification of the query's purpose.
type Intent string

const (
	IntentProblem  Intent = "problem"
	IntentInfo     Intent = "info"
	IntentDecision Intent = "decision"
	IntentUrgent   Intent = "urgent"
)

// EnhancedQuery is the enhancer's structured output (spec §4.5).
type EnhancedQuery struct {
	EnhancedText  string  `json:"enhanced_text"`
	TopK          int     `json:"top_k"`
	ChannelFilter *string `json:"channel_filter,omitempty"`
	UserFilter    *string `json:"user_filter,omitempty"`
	DateFrom      *string `json:"date_from,omitempty"`
	DateTo        *string `json:"date_to,omitempty"`
	Intent        Intent  `json:"intent,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// rawSchemaOutput is what the model is instructed to produce; an alias of
// EnhancedQuery with exactly its JSON tags, parsed strictly before any
// semantic checks.
type rawSchemaOutput = EnhancedQuery

// Enhancer is the interface search (C7) depends on.
type Enhancer interface {
	Enhance(ctx context.Context, rawQuery string) (EnhancedQuery, error)
}

// Client is the production Enhancer backed by a single Anthropic call.
type Client struct {
	sdk    anthropic.Client
	prompt Prompt
	gov    *ratelimit.Governor
	rate   int
	log    zerolog.Logger
}

// NewClient constructs a Client. prompt is loaded once at startup via
// LoadPrompt.
func NewClient(apiKey string, prompt Prompt, gov *ratelimit.Governor, ratePerMinute int) *Client {
	gov.Configure(providerLLM, endpointLLM, ratePerMinute)
	return &Client{
		sdk:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		prompt: prompt,
		gov:    gov,
		rate:   ratePerMinute,
		log:    logging.For("enhancer"),
	}
}

// Enhance calls the LLM once and parses its response as EnhancedQuery.
// Any failure to produce valid, schema-matching JSON falls back to
// {enhanced_text: rawQuery, top_k: 10} without returning an error, per
// spec §4.5.
func (c *Client) Enhance(ctx context.Context, rawQuery string) (EnhancedQuery, error) {
	fallback := EnhancedQuery{EnhancedText: rawQuery, TopK: fallbackTopK}

	if err := c.gov.Acquire(ctx, providerLLM, endpointLLM, c.rate); err != nil {
		return EnhancedQuery{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.sdk.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.prompt.Model),
		MaxTokens:   c.prompt.MaxTokens,
		Temperature: anthropic.Float(c.prompt.Temperature),
		System:      []anthropic.TextBlockParam{{Text: c.prompt.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(rawQuery)),
		},
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("enhancer llm call failed, falling back to raw query")
		return fallback, nil
	}

	text := extractText(resp)
	parsed, ok := parseStrictJSON(text)
	if !ok {
		c.log.Warn().Str("response", text).Msg("enhancer response not valid schema JSON, falling back")
		return fallback, nil
	}
	if parsed.TopK < 1 || parsed.TopK > 50 {
		parsed.TopK = fallbackTopK
	}
	if parsed.EnhancedText == "" {
		parsed.EnhancedText = rawQuery
	}
	return parsed, nil
}

func extractText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// parseStrictJSON rejects any response that isn't a single valid JSON
// object matching EnhancedQuery's required fields (spec §4.5).
func parseStrictJSON(text string) (EnhancedQuery, bool) {
	text = strings.TrimSpace(text)
	if start := strings.IndexByte(text, '{'); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndexByte(text, '}'); end >= 0 && end < len(text)-1 {
		text = text[:end+1]
	}

	var out rawSchemaOutput
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return EnhancedQuery{}, false
	}
	if out.EnhancedText == "" {
		return EnhancedQuery{}, false
	}
	return out, true
}
