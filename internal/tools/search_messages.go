package tools

import (
	"context"
	"encoding/json"
	"regexp"

	"chatvector/internal/search"
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Searcher is the subset of *search.Service this tool depends on.
type Searcher interface {
	Search(ctx context.Context, rawQuery string, overrides search.Overrides) (search.Response, error)
}

type searchMessagesArgs struct {
	Query         string  `json:"query"`
	TopK          *int    `json:"top_k,omitempty"`
	ChannelFilter *string `json:"channel_filter,omitempty"`
	UserFilter    *string `json:"user_filter,omitempty"`
	DateFrom      *string `json:"date_from,omitempty"`
	DateTo        *string `json:"date_to,omitempty"`
}

// SearchMessagesTool implements the search_messages tool (spec §4.8).
type SearchMessagesTool struct {
	search Searcher
}

// NewSearchMessagesTool constructs a SearchMessagesTool.
func NewSearchMessagesTool(s Searcher) *SearchMessagesTool {
	return &SearchMessagesTool{search: s}
}

func (t *SearchMessagesTool) Name() string { return "search_messages" }

func (t *SearchMessagesTool) JSONSchema() Schema {
	return Schema{
		Name:        "search_messages",
		Description: "Search the chat workspace for messages matching a natural-language query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":          map[string]any{"type": "string", "maxLength": 1000},
				"top_k":          map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
				"channel_filter": map[string]any{"type": "string"},
				"user_filter":    map[string]any{"type": "string"},
				"date_from":      map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
				"date_to":        map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			},
			"required": []string{"query"},
		},
	}
}

// Call validates input before dispatching, per spec §4.8: "lengths,
// patterns, and ranges are enforced before the handler runs." top_k is the
// exception: a value outside [1,50] is neither rejected nor clamped here but
// passed through unchanged, and the service layer (internal/search) clamps
// it (decided open question, spec §9(b)).
func (t *SearchMessagesTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args searchMessagesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &InvalidParamsError{Message: "search_messages: malformed arguments: " + err.Error()}
	}
	if len(args.Query) == 0 || len(args.Query) > 1000 {
		return nil, &InvalidParamsError{Message: "search_messages: query must be 1-1000 characters"}
	}
	if args.DateFrom != nil && !dateRe.MatchString(*args.DateFrom) {
		return nil, &InvalidParamsError{Message: "search_messages: date_from must match YYYY-MM-DD"}
	}
	if args.DateTo != nil && !dateRe.MatchString(*args.DateTo) {
		return nil, &InvalidParamsError{Message: "search_messages: date_to must match YYYY-MM-DD"}
	}

	overrides := search.Overrides{
		ChannelFilter: args.ChannelFilter,
		UserFilter:    args.UserFilter,
		DateFrom:      args.DateFrom,
		DateTo:        args.DateTo,
	}
	if args.TopK != nil {
		overrides.TopK = *args.TopK
	}
	return t.search.Search(ctx, args.Query, overrides)
}
