// Package vectorstore defines the upsert/query abstraction over the vector
// index described in spec §4.4 (C4), plus its two backends: a remote Qdrant
// client and a local NDJSON-backed brute-force fallback.
package vectorstore

import (
	"context"
	"time"
)

// Point is one vector and its associated metadata, keyed by a caller-chosen
// id (spec §4.4's "vector_id").
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Filter is an AND of equality predicates over metadata fields and, where
// TSFrom/TSTo are non-zero, a ts range predicate (spec §4.4's date_from/date_to,
// already converted to inclusive Unix timestamps by the caller).
type Filter struct {
	Equals  map[string]string
	TSFrom  int64 // inclusive, 0 means unbounded
	TSTo    int64 // inclusive, 0 means unbounded
}

// Result is a single ranked hit from Query.
type Result struct {
	ID       string
	Score    float64 // higher is closer
	Metadata map[string]string
}

// Stats summarizes store contents for operational visibility.
type Stats struct {
	TotalVectors  int
	Channels      int
	LastUpsertAt  time.Time
}

// VectorStore is the store abstraction every component programs against;
// production code resolves either a Qdrant-backed or file-backed
// implementation depending on configuration.
type VectorStore interface {
	// Upsert writes batch idempotently by ID. len(batch) must be <= MaxBatch;
	// callers are responsible for sub-batching larger inputs.
	Upsert(ctx context.Context, batch []Point) error

	// Query returns up to topK results matching filter, ranked by score
	// descending. MemoryStore breaks ties by the metadata "ts" field
	// descending; QdrantStore leaves ties in the backend's order.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Result, error)

	// Stats reports aggregate store state.
	Stats(ctx context.Context) (Stats, error)

	// DeleteByChannel removes every point whose metadata "channel_id" equals
	// channelID, used when an operator prunes an unreachable channel.
	DeleteByChannel(ctx context.Context, channelID string) error
}

// MaxBatch is the upstream batch-size ceiling for Upsert (spec §4.4).
const MaxBatch = 100

// MetadataChannelIDKey is the metadata field DeleteByChannel and channel
// filters match against.
const MetadataChannelIDKey = "channel_id"

// MetadataTSKey is the metadata field score ties are broken on, and the one
// TSFrom/TSTo range against.
const MetadataTSKey = "ts"
