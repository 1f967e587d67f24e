// Package model defines the chat-workspace domain types shared across the
// ingestion and search pipelines.
package model

import (
	"strconv"
	"time"
)

// User is a chat-platform account. Immutable once cached; callers refresh on
// TTL expiry rather than mutate in place.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
}

// Channel is a chat-platform conversation. CanvasID is empty when the
// channel has no attached canvas document.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"is_member"`
	CanvasID string `json:"canvas_id,omitempty"`
}

// Reaction is an emoji reaction attached to a Message.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

// Canvas is a long-form document attached to a channel, indexed as a
// synthetic Message of Kind KindCanvas.
type Canvas struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ChannelID string `json:"channel_id"`
}

// Kind enumerates the shape of a Message.
type Kind string

const (
	KindMessage     Kind = "message"
	KindThreadReply Kind = "thread_reply"
	KindCanvas      Kind = "canvas"
	KindRichPost    Kind = "rich_post"
)

// Attachment is a file, code snippet, or rich workflow block carried by a
// Message. Only the fields relevant to embedding text are modeled.
type Attachment struct {
	Kind     string `json:"kind"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Language string `json:"language,omitempty"`
}

// Message is the atomic unit of ingestion. Identity is (ChannelID, TS).
type Message struct {
	ChannelID      string       `json:"channel_id"`
	TS             string       `json:"ts"`
	Text           string       `json:"text"`
	AuthorID       string       `json:"author_id"`
	ThreadParentTS string       `json:"thread_parent_ts,omitempty"`
	IsThreadRoot   bool         `json:"is_thread_root"`
	Reactions      []Reaction   `json:"reactions,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Kind           Kind         `json:"kind"`
}

// EmbeddingDimension is the fixed vector width this system operates on.
const EmbeddingDimension = 1536

// Vector is a dense embedding. Cosine similarity is used for ranking, so
// magnitude carries no independent meaning.
type Vector = []float32

// Metadata is the payload stored alongside each Vector in the vector store.
type Metadata struct {
	ChannelID    string `json:"channel_id"`
	ChannelName  string `json:"channel_name"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	TS           string `json:"ts"`
	ISODate      string `json:"iso_date"`
	ThreadRootTS string `json:"thread_root_ts,omitempty"`
	Kind         string `json:"kind"`
	HasReactions bool   `json:"has_reactions"`
	ChunkIndex   int    `json:"chunk_index"`
	ChunkTotal   int    `json:"chunk_total"`
	TextExcerpt  string `json:"text_excerpt"`
}

// MaxExcerptLen bounds Metadata.TextExcerpt per spec §3.
const MaxExcerptLen = 300

// ToMap flattens Metadata into the string-keyed map vectorstore.Point and
// vectorstore.Result carry. Only non-empty optional fields are included.
func (m Metadata) ToMap() map[string]string {
	out := map[string]string{
		"channel_id":    m.ChannelID,
		"raw_ts":        m.TS,
		"kind":          m.Kind,
		"has_reactions": strconv.FormatBool(m.HasReactions),
		"chunk_index":   itoa(m.ChunkIndex),
		"chunk_total":   itoa(m.ChunkTotal),
		"text_excerpt":  m.TextExcerpt,
	}
	if m.ChannelName != "" {
		out["channel_name"] = m.ChannelName
	}
	if m.UserID != "" {
		out["user_id"] = m.UserID
	}
	if m.UserName != "" {
		out["user_name"] = m.UserName
	}
	if m.ISODate != "" {
		out["iso_date"] = m.ISODate
	}
	if m.ThreadRootTS != "" {
		out["thread_root_ts"] = m.ThreadRootTS
	}
	return out
}

// VectorID returns the stable key under which a chunk's vector lives in the
// index: (channel_id, ts[, chunk_index]). chunkTotal == 1 omits the suffix
// since a single-chunk message needs no chunk_index disambiguation.
func VectorID(channelID, ts string, chunkIndex, chunkTotal int) string {
	if chunkTotal <= 1 {
		return channelID + ":" + ts
	}
	return channelID + ":" + ts + ":" + itoa(chunkIndex)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ChannelCheckpoint is the per-channel persisted progress record.
type ChannelCheckpoint struct {
	LastIngestedTS string    `json:"last_ingested_ts"`
	LastSuccessAt  time.Time `json:"last_success_at"`
	MessageCount   int       `json:"message_count"`
}

// IngestionState is the whole-process persisted checkpoint document
// (spec §6.2), written atomically via write-temp-then-rename.
type IngestionState struct {
	RunID             int                          `json:"run_id"`
	Channels          map[string]ChannelCheckpoint `json:"channels"`
	FirstRunCompleted bool                         `json:"first_run_completed"`
}

// Session ties subsequent JSON-RPC requests to an authenticated subject.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject"`
}

// SessionLifetime is the fixed session TTL from creation (spec §3).
const SessionLifetime = 24 * time.Hour

// Expired reports whether the session is no longer valid at t.
func (s Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// BearerKeyPrefix is the fixed literal prefix every valid API key carries,
// enabling a cheap length/prefix rejection before the constant-time compare.
const BearerKeyPrefix = "mcp_key_"

// BearerKeyLength is len(BearerKeyPrefix) + 48 hex characters.
const BearerKeyLength = len(BearerKeyPrefix) + 48
