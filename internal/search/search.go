// Package search implements the search service (C7): enhance, embed,
// filter-translate, query, assemble, cache.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatvector/internal/embedclient"
	"chatvector/internal/enhancer"
	"chatvector/internal/errs"
	"chatvector/internal/logging"
	"chatvector/internal/vectorstore"
)

const (
	defaultTopK = 10
	minTopK     = 1
	maxTopK     = 50
)

// Overrides lets a caller bypass enhancement or force a top_k (spec §4.7
// step 1).
type Overrides struct {
	SkipEnhancement bool
	TopK            int

	// These, when non-nil, override whatever the enhancer extracted (or
	// supply filters outright when enhancement is skipped) — a caller like
	// C8's search_messages tool accepts these fields directly (spec §4.8).
	ChannelFilter *string
	UserFilter    *string
	DateFrom      *string
	DateTo        *string
}

// Filters mirrors the EnhancedQuery's filter fields, already resolved to
// vectorstore.Filter-ready values where applicable.
type Filters struct {
	ChannelFilter string
	UserFilter    string
	DateFrom      string
	DateTo        string
}

// canonicalPairs returns the set filter fields as "k=v" strings in a fixed
// field order; fingerprint sorts them before hashing.
func (f Filters) canonicalPairs() []string {
	var out []string
	if f.ChannelFilter != "" {
		out = append(out, "channel="+f.ChannelFilter)
	}
	if f.UserFilter != "" {
		out = append(out, "user="+f.UserFilter)
	}
	if f.DateFrom != "" {
		out = append(out, "from="+f.DateFrom)
	}
	if f.DateTo != "" {
		out = append(out, "to="+f.DateTo)
	}
	return out
}

// Result is one assembled hit (spec §4.7 step 5).
type Result struct {
	ID               string  `json:"id"`
	Score            float64 `json:"score"`
	ChannelName      string  `json:"channel_name"`
	UserName         string  `json:"user_name,omitempty"`
	TSISO            string  `json:"ts_iso"`
	TextExcerpt      string  `json:"text_excerpt"`
	ThreadRootTS     string  `json:"thread_root_ts,omitempty"`
	ReactionsSummary string  `json:"reactions_summary,omitempty"`
	Permalink        string  `json:"permalink,omitempty"`
}

// Response is Search's full return value.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
}

// ChatDirectory resolves ids back to display names for result assembly.
type ChatDirectory interface {
	GetChannel(ctx context.Context, channelID string) (name string, err error)
	GetUser(ctx context.Context, userID string) (name string, err error)
}

// Service is the production Search implementation.
type Service struct {
	enhancer     enhancer.Enhancer
	embedder     embedclient.Embedder
	store        vectorstore.VectorStore
	names        *NameIndex
	directory    ChatDirectory
	cache        *responseCache
	workspaceURL string
	log          zerolog.Logger
}

// NewService constructs a Service. cacheAddr "" uses the in-process cache
// fallback. workspaceURL, if set, is used to synthesize permalinks.
func NewService(e enhancer.Enhancer, embedder embedclient.Embedder, store vectorstore.VectorStore, names *NameIndex, directory ChatDirectory, cacheAddr, workspaceURL string) *Service {
	log := logging.For("search")
	return &Service{
		enhancer:     e,
		embedder:     embedder,
		store:        store,
		names:        names,
		directory:    directory,
		cache:        newResponseCache(cacheAddr, log),
		workspaceURL: workspaceURL,
		log:          log,
	}
}

// Search implements spec §4.7's full pipeline.
func (s *Service) Search(ctx context.Context, rawQuery string, overrides Overrides) (Response, error) {
	eq, err := s.resolveEnhancedQuery(ctx, rawQuery, overrides)
	if err != nil {
		return Response{}, err
	}
	applyFilterOverrides(&eq, overrides)
	topK := clampTopK(eq.TopK)

	filters, vsFilter, err := s.translateFilters(eq)
	if err != nil {
		return Response{}, err
	}

	key := fingerprint(eq.EnhancedText, topK, filters)
	if cached, ok := s.cache.Get(ctx, key); ok {
		return *cached, nil
	}

	vector, err := s.embedder.Embed(ctx, eq.EnhancedText)
	if err != nil {
		return Response{}, err
	}

	hits, err := s.store.Query(ctx, vector, topK, vsFilter)
	if err != nil {
		return Response{}, errs.Wrap(errs.KindUpstreamTimeout, true, err, "querying vector store")
	}

	resp := s.assemble(ctx, hits)
	s.cache.Set(ctx, key, resp)
	return resp, nil
}

func (s *Service) resolveEnhancedQuery(ctx context.Context, rawQuery string, overrides Overrides) (enhancer.EnhancedQuery, error) {
	if overrides.SkipEnhancement {
		topK := overrides.TopK
		if topK == 0 {
			topK = defaultTopK
		}
		return enhancer.EnhancedQuery{EnhancedText: rawQuery, TopK: topK}, nil
	}
	return s.enhancer.Enhance(ctx, rawQuery)
}

// applyFilterOverrides overlays any caller-supplied filter overrides onto
// the enhancer's extracted query (spec §4.8: a tool caller's explicit
// top_k/channel_filter/user_filter/date_from/date_to take precedence over
// whatever the enhancer inferred) -- this runs regardless of whether
// enhancement ran, so search_messages(top_k=3) isn't silently overridden by
// the enhancer's own guess.
func applyFilterOverrides(eq *enhancer.EnhancedQuery, overrides Overrides) {
	if overrides.TopK != 0 {
		eq.TopK = overrides.TopK
	}
	if overrides.ChannelFilter != nil {
		eq.ChannelFilter = overrides.ChannelFilter
	}
	if overrides.UserFilter != nil {
		eq.UserFilter = overrides.UserFilter
	}
	if overrides.DateFrom != nil {
		eq.DateFrom = overrides.DateFrom
	}
	if overrides.DateTo != nil {
		eq.DateTo = overrides.DateTo
	}
}

func clampTopK(topK int) int {
	if topK < minTopK {
		return minTopK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}

// translateFilters implements spec §4.7 step 3.
func (s *Service) translateFilters(eq enhancer.EnhancedQuery) (Filters, vectorstore.Filter, error) {
	filters := Filters{}
	vf := vectorstore.Filter{Equals: map[string]string{}}

	if eq.ChannelFilter != nil && *eq.ChannelFilter != "" {
		id := eq.ChannelFilter
		channelID := *id
		if s.names != nil {
			channelID = s.names.ResolveChannel(*id)
		}
		filters.ChannelFilter = channelID
		vf.Equals[vectorstore.MetadataChannelIDKey] = channelID
	}
	if eq.UserFilter != nil && *eq.UserFilter != "" {
		id := eq.UserFilter
		userID := *id
		if s.names != nil {
			userID = s.names.ResolveUser(*id)
		}
		filters.UserFilter = userID
		vf.Equals["user_id"] = userID
	}
	if eq.DateFrom != nil && *eq.DateFrom != "" {
		t, err := time.Parse("2006-01-02", *eq.DateFrom)
		if err != nil {
			return Filters{}, vectorstore.Filter{}, errs.New(errs.KindUpstreamInvalid, false, "invalid date_from %q", *eq.DateFrom)
		}
		filters.DateFrom = *eq.DateFrom
		vf.TSFrom = t.UTC().Unix()
	}
	if eq.DateTo != nil && *eq.DateTo != "" {
		t, err := time.Parse("2006-01-02", *eq.DateTo)
		if err != nil {
			return Filters{}, vectorstore.Filter{}, errs.New(errs.KindUpstreamInvalid, false, "invalid date_to %q", *eq.DateTo)
		}
		filters.DateTo = *eq.DateTo
		// Inclusive of the whole day (spec §4.7 step 3 / Testable Property 9).
		vf.TSTo = t.UTC().Add(24*time.Hour - time.Second).Unix()
	}
	return filters, vf, nil
}

func (s *Service) assemble(ctx context.Context, hits []vectorstore.Result) Response {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{
			ID:          h.ID,
			Score:       h.Score,
			TextExcerpt: h.Metadata["text_excerpt"],
		}
		channelID := h.Metadata[vectorstore.MetadataChannelIDKey]
		if channelID != "" && s.directory != nil {
			if name, err := s.directory.GetChannel(ctx, channelID); err == nil {
				r.ChannelName = name
			}
		}
		if userID := h.Metadata["user_id"]; userID != "" && s.directory != nil {
			if name, err := s.directory.GetUser(ctx, userID); err == nil {
				r.UserName = name
			}
		}
		if rawTS := h.Metadata["raw_ts"]; rawTS != "" {
			r.TSISO = tsToISO(rawTS)
		}
		if s.workspaceURL != "" && channelID != "" && h.Metadata["raw_ts"] != "" {
			r.Permalink = fmt.Sprintf("%s/archives/%s/p%s", strings.TrimSuffix(s.workspaceURL, "/"), channelID, strings.ReplaceAll(h.Metadata["raw_ts"], ".", ""))
		}
		results = append(results, r)
	}
	return Response{Results: results, Total: len(results)}
}

func tsToISO(rawTS string) string {
	sec, _, _ := strings.Cut(rawTS, ".")
	unix, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
