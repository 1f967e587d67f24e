package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvector/internal/search"
)

type fakeSearcher struct {
	lastOverrides search.Overrides
	resp          search.Response
}

func (f *fakeSearcher) Search(ctx context.Context, rawQuery string, overrides search.Overrides) (search.Response, error) {
	f.lastOverrides = overrides
	return f.resp, nil
}

func TestSearchMessagesTool_RejectsEmptyQuery(t *testing.T) {
	tool := NewSearchMessagesTool(&fakeSearcher{})
	_, err := tool.Call(context.Background(), json.RawMessage(`{"query":""}`))
	require.Error(t, err)
	var ipe *InvalidParamsError
	require.ErrorAs(t, err, &ipe)
}

func TestSearchMessagesTool_RejectsBadDatePattern(t *testing.T) {
	tool := NewSearchMessagesTool(&fakeSearcher{})
	_, err := tool.Call(context.Background(), json.RawMessage(`{"query":"hi","date_from":"07/29/2026"}`))
	require.Error(t, err)
}

func TestSearchMessagesTool_PassesOutOfRangeTopKThroughForServiceToClamp(t *testing.T) {
	fs := &fakeSearcher{}
	tool := NewSearchMessagesTool(fs)
	_, err := tool.Call(context.Background(), json.RawMessage(`{"query":"hi","top_k":500}`))
	require.NoError(t, err)
	assert.Equal(t, 500, fs.lastOverrides.TopK)
}

func TestSearchMessagesTool_PassesFiltersThrough(t *testing.T) {
	fs := &fakeSearcher{}
	tool := NewSearchMessagesTool(fs)

	_, err := tool.Call(context.Background(), json.RawMessage(`{
		"query": "deploy failures",
		"top_k": 5,
		"channel_filter": "#engineering",
		"user_filter": "@alice",
		"date_from": "2026-07-01",
		"date_to": "2026-07-29"
	}`))
	require.NoError(t, err)

	require.NotNil(t, fs.lastOverrides.ChannelFilter)
	require.NotNil(t, fs.lastOverrides.UserFilter)
	require.NotNil(t, fs.lastOverrides.DateFrom)
	require.NotNil(t, fs.lastOverrides.DateTo)
	assert.Equal(t, "#engineering", *fs.lastOverrides.ChannelFilter)
	assert.Equal(t, "@alice", *fs.lastOverrides.UserFilter)
	assert.Equal(t, "2026-07-01", *fs.lastOverrides.DateFrom)
	assert.Equal(t, "2026-07-29", *fs.lastOverrides.DateTo)
	assert.Equal(t, 5, fs.lastOverrides.TopK)
}
