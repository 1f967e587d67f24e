package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvector/internal/model"
)

type fakeChannelLister struct {
	channels map[string]model.Channel
}

func (f fakeChannelLister) GetChannel(ctx context.Context, channelID string) (model.Channel, error) {
	ch, ok := f.channels[channelID]
	if !ok {
		return model.Channel{}, errors.New("not found")
	}
	return ch, nil
}

func TestListChannelsTool_ListsConfiguredChannels(t *testing.T) {
	lister := fakeChannelLister{channels: map[string]model.Channel{
		"C1": {ID: "C1", Name: "engineering", IsMember: true},
		"C2": {ID: "C2", Name: "random", IsMember: false},
	}}
	tool := NewListChannelsTool(lister, []string{"C1", "C2"})

	res, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)

	out, ok := res.([]listChannelsResult)
	require.True(t, ok)
	require.Len(t, out, 2)
	assert.Equal(t, "engineering", out[0].Name)
	assert.True(t, out[0].IsMember)
}

func TestListChannelsTool_SkipsUnresolvableChannels(t *testing.T) {
	lister := fakeChannelLister{channels: map[string]model.Channel{
		"C1": {ID: "C1", Name: "engineering"},
	}}
	tool := NewListChannelsTool(lister, []string{"C1", "C404"})

	res, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	out := res.([]listChannelsResult)
	assert.Len(t, out, 1)
}
