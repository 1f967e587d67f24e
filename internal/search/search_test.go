package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvector/internal/enhancer"
	"chatvector/internal/model"
	"chatvector/internal/vectorstore"
)

type fakeEnhancer struct {
	out enhancer.EnhancedQuery
}

func (f fakeEnhancer) Enhance(ctx context.Context, rawQuery string) (enhancer.EnhancedQuery, error) {
	return f.out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (model.Vector, error) {
	return model.Vector{1, 0}, nil
}

func (fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([]model.Vector, error) {
	out := make([]model.Vector, len(texts))
	for i := range texts {
		out[i] = model.Vector{1, 0}
	}
	return out, nil
}

type fakeDirectory struct{}

func (fakeDirectory) GetChannel(ctx context.Context, channelID string) (string, error) {
	return "engineering", nil
}

func (fakeDirectory) GetUser(ctx context.Context, userID string) (string, error) {
	return "Alice", nil
}

func seedStore(t *testing.T) *vectorstore.MemoryStore {
	t.Helper()
	store, err := vectorstore.NewMemoryStore("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, []vectorstore.Point{
		{ID: "C1:1", Vector: []float32{1, 0}, Metadata: map[string]string{"channel_id": "C1", "raw_ts": "100.000001", "ts": "100", "text_excerpt": "deploy failed"}},
		{ID: "C1:2", Vector: []float32{0, 1}, Metadata: map[string]string{"channel_id": "C2", "raw_ts": "200.000001", "ts": "200", "text_excerpt": "lunch plans"}},
	}))
	return store
}

func TestSearch_ClampsTopKAndAssemblesResults(t *testing.T) {
	store := seedStore(t)
	names := NewNameIndex()
	names.LearnChannel("C1", "engineering")

	svc := NewService(fakeEnhancer{out: enhancer.EnhancedQuery{EnhancedText: "deploy", TopK: 500}}, fakeEmbedder{}, store, names, fakeDirectory{}, "", "")

	resp, err := svc.Search(context.Background(), "deploy", Overrides{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "engineering", resp.Results[0].ChannelName)
}

func TestSearch_ChannelFilterNarrowsResults(t *testing.T) {
	store := seedStore(t)
	names := NewNameIndex()
	names.LearnChannel("C1", "engineering")
	ch := "engineering"

	svc := NewService(fakeEnhancer{out: enhancer.EnhancedQuery{EnhancedText: "deploy", TopK: 10, ChannelFilter: &ch}}, fakeEmbedder{}, store, names, fakeDirectory{}, "", "")

	resp, err := svc.Search(context.Background(), "deploy", Overrides{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "C1:1", resp.Results[0].ID)
}

func TestSearch_OverridesSkipEnhancement(t *testing.T) {
	store := seedStore(t)
	svc := NewService(fakeEnhancer{out: enhancer.EnhancedQuery{EnhancedText: "should not be used", TopK: 1}}, fakeEmbedder{}, store, NewNameIndex(), fakeDirectory{}, "", "")

	resp, err := svc.Search(context.Background(), "raw text query", Overrides{SkipEnhancement: true, TopK: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearch_TopKOverrideAppliesEvenWhenEnhancementRuns(t *testing.T) {
	store := seedStore(t)
	svc := NewService(fakeEnhancer{out: enhancer.EnhancedQuery{EnhancedText: "deploy", TopK: 10}}, fakeEmbedder{}, store, NewNameIndex(), fakeDirectory{}, "", "")

	resp, err := svc.Search(context.Background(), "deploy", Overrides{TopK: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1, "explicit top_k override must win over the enhancer's own top_k")
}

func TestSearch_ZeroHitsIsNotAnError(t *testing.T) {
	store, err := vectorstore.NewMemoryStore("")
	require.NoError(t, err)
	svc := NewService(fakeEnhancer{out: enhancer.EnhancedQuery{EnhancedText: "anything", TopK: 10}}, fakeEmbedder{}, store, NewNameIndex(), fakeDirectory{}, "", "")

	resp, err := svc.Search(context.Background(), "anything", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
	assert.Empty(t, resp.Results)
}
