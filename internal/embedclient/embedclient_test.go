package embedclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chatvector/internal/model"
)

// fakeEmbedder is a deterministic stand-in for *Client's upstream call;
// embedclient's own tests exercise batching purely at the slicing level
// since the real upstream call requires network access.
type fakeEmbedder struct {
	calls [][]string
}

func (f *fakeEmbedder) embedTextsLen(texts []string) []model.Vector {
	f.calls = append(f.calls, texts)
	out := make([]model.Vector, len(texts))
	for i := range texts {
		v := make(model.Vector, model.EmbeddingDimension)
		v[0] = float32(i)
		out[i] = v
	}
	return out
}

func TestBatchSlicing_RespectsMaxBatch(t *testing.T) {
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = "t"
	}

	f := &fakeEmbedder{}
	var out []model.Vector
	for start := 0; start < len(texts); start += MaxBatch {
		end := start + MaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, f.embedTextsLen(texts[start:end])...)
	}

	assert.Len(t, out, 250)
	assert.Len(t, f.calls, 3)
	assert.Len(t, f.calls[0], 100)
	assert.Len(t, f.calls[1], 100)
	assert.Len(t, f.calls[2], 50)
}
