package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertAndQuery_RanksBySimilarity(t *testing.T) {
	m, err := NewMemoryStore("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]string{"channel_id": "C1", "ts": "100"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]string{"channel_id": "C1", "ts": "200"}},
	}))

	results, err := m.Query(ctx, []float32{1, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
}

func TestMemoryStore_Query_FiltersByEqualityAndTSRange(t *testing.T) {
	m, err := NewMemoryStore("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]string{"channel_id": "C1", "ts": "100"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]string{"channel_id": "C2", "ts": "150"}},
		{ID: "c", Vector: []float32{1, 0}, Metadata: map[string]string{"channel_id": "C1", "ts": "900"}},
	}))

	results, err := m.Query(ctx, []float32{1, 0}, 10, Filter{
		Equals: map[string]string{"channel_id": "C1"},
		TSFrom: 50,
		TSTo:   500,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestMemoryStore_DeleteByChannel(t *testing.T) {
	m, err := NewMemoryStore("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1}, Metadata: map[string]string{"channel_id": "C1", "ts": "1"}},
		{ID: "b", Vector: []float32{1}, Metadata: map[string]string{"channel_id": "C2", "ts": "1"}},
	}))
	require.NoError(t, m.DeleteByChannel(ctx, "C1"))

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVectors)
	assert.Equal(t, 1, stats.Channels)
}

func TestMemoryStore_PersistsAndReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.ndjson")
	ctx := context.Background()

	m1, err := NewMemoryStore(path)
	require.NoError(t, err)
	require.NoError(t, m1.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 2}, Metadata: map[string]string{"channel_id": "C1", "ts": "1"}},
	}))

	m2, err := NewMemoryStore(path)
	require.NoError(t, err)
	stats, err := m2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVectors)
}

func TestMemoryStore_Upsert_RejectsOversizedBatch(t *testing.T) {
	m, err := NewMemoryStore("")
	require.NoError(t, err)
	batch := make([]Point, MaxBatch+1)
	for i := range batch {
		batch[i] = Point{ID: "x", Vector: []float32{1}}
	}
	err = m.Upsert(context.Background(), batch)
	assert.Error(t, err)
}
