package tools

import (
	"context"
	"encoding/json"
	"time"

	"chatvector/internal/model"
	"chatvector/internal/vectorstore"
)

// StatsStore is the subset of vectorstore.VectorStore this tool depends on.
type StatsStore interface {
	Stats(ctx context.Context) (vectorstore.Stats, error)
}

// IngestionStater is the subset of *ingest.Worker this tool depends on.
type IngestionStater interface {
	Stats() model.IngestionState
}

type statsResult struct {
	TotalVectors    int    `json:"total_vectors"`
	ChannelsIndexed int    `json:"channels_indexed"`
	LastIngestedAt  string `json:"last_ingested_at,omitempty"`
}

// StatsTool implements the stats tool (spec §4.8): aggregate vector-store
// and ingestion state for operational visibility.
type StatsTool struct {
	store StatsStore
	state IngestionStater
}

// NewStatsTool constructs a StatsTool.
func NewStatsTool(store StatsStore, state IngestionStater) *StatsTool {
	return &StatsTool{store: store, state: state}
}

func (t *StatsTool) Name() string { return "stats" }

func (t *StatsTool) JSONSchema() Schema {
	return Schema{
		Name:        "stats",
		Description: "Report aggregate vector-store and ingestion state.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *StatsTool) Call(ctx context.Context, _ json.RawMessage) (any, error) {
	vs, err := t.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	res := statsResult{
		TotalVectors:    vs.TotalVectors,
		ChannelsIndexed: vs.Channels,
	}
	if t.state != nil {
		last := lastIngestedAt(t.state.Stats())
		if !last.IsZero() {
			res.LastIngestedAt = last.UTC().Format(time.RFC3339)
		}
	}
	return res, nil
}

func lastIngestedAt(state model.IngestionState) time.Time {
	var latest time.Time
	for _, cp := range state.Channels {
		if cp.LastSuccessAt.After(latest) {
			latest = cp.LastSuccessAt
		}
	}
	return latest
}
