package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvector/internal/chunk"
	"chatvector/internal/errs"
	"chatvector/internal/model"
	"chatvector/internal/vectorstore"
)

type fakeChat struct {
	history map[string][]model.Message
}

func (f *fakeChat) ListChannelHistory(ctx context.Context, channelID, sinceTS string) (<-chan model.Message, <-chan error) {
	out := make(chan model.Message, 10)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, m := range f.history[channelID] {
			if sinceTS != "" && m.TS <= sinceTS {
				continue
			}
			out <- m
		}
	}()
	return out, errCh
}

func (f *fakeChat) ListThreadReplies(ctx context.Context, channelID, rootTS string) (<-chan model.Message, <-chan error) {
	out := make(chan model.Message)
	errCh := make(chan error, 1)
	close(out)
	close(errCh)
	return out, errCh
}

func (f *fakeChat) GetUser(ctx context.Context, userID string) (model.User, error) {
	return model.User{ID: userID, DisplayName: "Test User"}, nil
}

func (f *fakeChat) GetChannel(ctx context.Context, channelID string) (model.Channel, error) {
	return model.Channel{ID: channelID}, nil
}

func (f *fakeChat) ListReactions(ctx context.Context, channelID, ts string) []model.Reaction { return nil }

func (f *fakeChat) ExtractCanvas(ctx context.Context, ch model.Channel) (*model.Canvas, error) {
	return nil, nil
}

func (f *fakeChat) NormalizeText(ctx context.Context, text string) string { return text }

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([]model.Vector, error) {
	out := make([]model.Vector, len(texts))
	for i := range texts {
		v := make(model.Vector, model.EmbeddingDimension)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func TestWorker_Ingest_AdvancesCheckpointOnSuccess(t *testing.T) {
	chat := &fakeChat{history: map[string][]model.Message{
		"C1": {
			{ChannelID: "C1", TS: "100.000001", Text: "hello"},
			{ChannelID: "C1", TS: "200.000001", Text: "world"},
		},
	}}
	store, err := vectorstore.NewMemoryStore("")
	require.NoError(t, err)

	w, err := NewWorker(chat, fakeEmbedder{}, store, "", nil, nil, chunk.Options{})
	require.NoError(t, err)

	report := w.Ingest(context.Background(), []string{"C1"})
	assert.Equal(t, 2, report.MessagesProcessed)
	assert.Equal(t, 2, report.MessagesUpserted)
	assert.Empty(t, report.AbortedChannels)

	cp, ok := w.state.Checkpoint("C1")
	require.True(t, ok)
	assert.Equal(t, "200.000001", cp.LastIngestedTS)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalVectors)
}

func TestWorker_Ingest_ChunksOversizedMessageIntoMultipleVectors(t *testing.T) {
	big := strings.Repeat("a very long sentence about deploys. ", 400) // well past the 8000-char default budget
	chat := &fakeChat{history: map[string][]model.Message{
		"C1": {{ChannelID: "C1", TS: "100.000001", Text: big}},
	}}
	store, err := vectorstore.NewMemoryStore("")
	require.NoError(t, err)

	w, err := NewWorker(chat, fakeEmbedder{}, store, "", nil, nil, chunk.Options{})
	require.NoError(t, err)

	report := w.Ingest(context.Background(), []string{"C1"})
	assert.Empty(t, report.AbortedChannels)
	assert.Greater(t, report.MessagesEmbedded, 1, "oversized message should yield more than one chunk/vector")

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.MessagesEmbedded, stats.TotalVectors)
}

func TestWorker_Ingest_DropsMessageEmptyAfterNormalization(t *testing.T) {
	chat := &fakeChat{history: map[string][]model.Message{
		"C1": {
			{ChannelID: "C1", TS: "100.000001", Text: "   "},
			{ChannelID: "C1", TS: "200.000001", Text: "hello"},
		},
	}}
	store, err := vectorstore.NewMemoryStore("")
	require.NoError(t, err)
	w, err := NewWorker(chat, fakeEmbedder{}, store, "", nil, nil, chunk.Options{})
	require.NoError(t, err)

	report := w.Ingest(context.Background(), []string{"C1"})
	assert.Equal(t, 1, report.MessagesEmbedded, "the blank message must be dropped, not embedded")

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVectors)
}

type fakeFailingStore struct{}

func (fakeFailingStore) Upsert(ctx context.Context, batch []vectorstore.Point) error {
	return errs.New(errs.KindPersistenceWriteFailed, true, "simulated upsert failure")
}
func (fakeFailingStore) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	return nil, nil
}
func (fakeFailingStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return vectorstore.Stats{}, nil
}
func (fakeFailingStore) DeleteByChannel(ctx context.Context, channelID string) error { return nil }

func TestWorker_Ingest_FailedUpsertDoesNotAdvanceCheckpoint(t *testing.T) {
	chat := &fakeChat{history: map[string][]model.Message{
		"C1": {{ChannelID: "C1", TS: "100.000001", Text: "hello"}},
	}}
	w, err := NewWorker(chat, fakeEmbedder{}, fakeFailingStore{}, "", nil, nil, chunk.Options{})
	require.NoError(t, err)

	report := w.Ingest(context.Background(), []string{"C1"})
	assert.Equal(t, []string{"C1"}, report.AbortedChannels)

	_, ok := w.state.Checkpoint("C1")
	assert.False(t, ok, "checkpoint must not advance when the upsert failed")
}

func TestWorker_Ingest_IncrementalRunSkipsAlreadyIngested(t *testing.T) {
	chat := &fakeChat{history: map[string][]model.Message{
		"C1": {
			{ChannelID: "C1", TS: "100.000001", Text: "hello"},
			{ChannelID: "C1", TS: "200.000001", Text: "world"},
		},
	}}
	store, err := vectorstore.NewMemoryStore("")
	require.NoError(t, err)
	w, err := NewWorker(chat, fakeEmbedder{}, store, "", nil, nil, chunk.Options{})
	require.NoError(t, err)

	_ = w.Ingest(context.Background(), []string{"C1"})
	report := w.Ingest(context.Background(), []string{"C1"})
	assert.Equal(t, 0, report.MessagesProcessed, "second run should find nothing newer than the checkpoint")
}
