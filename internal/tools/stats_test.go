package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvector/internal/model"
	"chatvector/internal/vectorstore"
)

type fakeStatsStore struct {
	stats vectorstore.Stats
}

func (f fakeStatsStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return f.stats, nil
}

type fakeIngestionStater struct {
	state model.IngestionState
}

func (f fakeIngestionStater) Stats() model.IngestionState { return f.state }

func TestStatsTool_AggregatesStoreAndIngestionState(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	store := fakeStatsStore{stats: vectorstore.Stats{TotalVectors: 42, Channels: 3}}
	state := fakeIngestionStater{state: model.IngestionState{
		Channels: map[string]model.ChannelCheckpoint{
			"C1": {LastSuccessAt: now.Add(-time.Hour)},
			"C2": {LastSuccessAt: now},
		},
	}}
	tool := NewStatsTool(store, state)

	res, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)

	out, ok := res.(statsResult)
	require.True(t, ok)
	assert.Equal(t, 42, out.TotalVectors)
	assert.Equal(t, 3, out.ChannelsIndexed)
	assert.Equal(t, now.Format(time.RFC3339), out.LastIngestedAt)
}

func TestStatsTool_NilStaterOmitsLastIngestedAt(t *testing.T) {
	store := fakeStatsStore{stats: vectorstore.Stats{TotalVectors: 0}}
	tool := NewStatsTool(store, nil)

	res, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	out := res.(statsResult)
	assert.Empty(t, out.LastIngestedAt)
}
