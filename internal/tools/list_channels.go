package tools

import (
	"context"
	"encoding/json"

	"chatvector/internal/model"
)

// ChannelLister is the subset of the chat client this tool depends on.
type ChannelLister interface {
	GetChannel(ctx context.Context, channelID string) (model.Channel, error)
}

type listChannelsResult struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"is_member"`
}

// ListChannelsTool implements the list_channels tool (spec §4.8): the
// configured channel set, resolved through the chat client's cache.
type ListChannelsTool struct {
	chat       ChannelLister
	channelIDs []string
}

// NewListChannelsTool constructs a ListChannelsTool over the configured
// channel IDs (the set this deployment is scoped to ingest/search).
func NewListChannelsTool(chat ChannelLister, channelIDs []string) *ListChannelsTool {
	return &ListChannelsTool{chat: chat, channelIDs: channelIDs}
}

func (t *ListChannelsTool) Name() string { return "list_channels" }

func (t *ListChannelsTool) JSONSchema() Schema {
	return Schema{
		Name:        "list_channels",
		Description: "List the chat channels this deployment indexes.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

// Call takes no arguments; it always succeeds unless an individual
// channel lookup fails, in which case that channel is skipped rather than
// failing the whole call.
func (t *ListChannelsTool) Call(ctx context.Context, _ json.RawMessage) (any, error) {
	out := make([]listChannelsResult, 0, len(t.channelIDs))
	for _, id := range t.channelIDs {
		ch, err := t.chat.GetChannel(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, listChannelsResult{ID: ch.ID, Name: ch.Name, IsMember: ch.IsMember})
	}
	return out, nil
}
