package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller's original vector_id in the payload,
// since Qdrant point ids must be a UUID or a positive integer.
const payloadIDField = "_original_id"

// QdrantStore is the remote-backed VectorStore (spec §4.4's primary
// backend), talking to Qdrant's gRPC API.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string // cosine|l2|euclidean|ip|dot|manhattan

	lastUpsertAt time.Time
}

// NewQdrantStore dials dsn (a URL such as http://host:6334, optionally with
// an ?api_key= query parameter; an https scheme enables TLS, and a missing
// host or port falls back to localhost and 6334) and ensures collection
// exists with the requested dimension and metric, creating it if absent.
func NewQdrantStore(dsn, collection string, dimensions int, metric string) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	config := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		config.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		config.APIKey = apiKey
	}
	client, err := qdrant.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	q := &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return q, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default: // cosine
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(id string) (uuidStr string, original string) {
	if _, err := uuid.Parse(id); err == nil {
		return id, ""
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), id
}

// Upsert writes batch in a single Qdrant upsert call; callers must keep
// len(batch) <= MaxBatch (spec §4.4).
func (q *QdrantStore) Upsert(ctx context.Context, batch []Point) error {
	if len(batch) > MaxBatch {
		return fmt.Errorf("upsert batch of %d exceeds max %d", len(batch), MaxBatch)
	}
	points := make([]*qdrant.PointStruct, 0, len(batch))
	for _, p := range batch {
		uuidStr, original := pointIDFor(p.ID)
		metadataAny := make(map[string]any, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			metadataAny[k] = v
		}
		if original != "" {
			metadataAny[payloadIDField] = original
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(metadataAny),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err == nil {
		q.lastUpsertAt = time.Now()
	}
	return err
}

// Query issues a dense vector search with an AND'd payload filter built from
// equality and, if set, a ts range condition (spec §4.4). Hits come back in
// Qdrant's score order; ties in score are not re-sorted by ts.
func (q *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var must []*qdrant.Condition
	for k, v := range filter.Equals {
		must = append(must, qdrant.NewMatch(k, v))
	}
	if filter.TSFrom != 0 || filter.TSTo != 0 {
		r := &qdrant.Range{}
		if filter.TSFrom != 0 {
			from := float64(filter.TSFrom)
			r.Gte = &from
		}
		if filter.TSTo != 0 {
			to := float64(filter.TSTo)
			r.Lte = &to
		}
		must = append(must, qdrant.NewRange(MetadataTSKey, r))
	}
	var queryFilter *qdrant.Filter
	if len(must) > 0 {
		queryFilter = &qdrant.Filter{Must: must}
	}

	limit := uint64(topK)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		metadata := make(map[string]string)
		originalID := ""
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		id := originalID
		if id == "" {
			id = uuidStr
		}
		results = append(results, Result{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return results, nil
}

// Stats reports the collection's point count and distinct channels observed
// via a best-effort payload scroll; Qdrant has no built-in "distinct field
// values" primitive, so this scrolls the collection. Acceptable at the
// scale this service targets (single team workspace).
func (q *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return Stats{}, err
	}
	channels := make(map[string]struct{})
	var offset *qdrant.PointId
	for {
		limit := uint32(256)
		scrolled, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil || len(scrolled) == 0 {
			break
		}
		for _, p := range scrolled {
			if v, ok := p.Payload[MetadataChannelIDKey]; ok {
				channels[v.GetStringValue()] = struct{}{}
			}
		}
		offset = scrolled[len(scrolled)-1].Id
		if len(scrolled) < int(limit) {
			break
		}
	}
	return Stats{
		TotalVectors: int(info.GetPointsCount()),
		Channels:     len(channels),
		LastUpsertAt: q.lastUpsertAt,
	}, nil
}

// DeleteByChannel removes every point whose channel_id payload field
// matches channelID.
func (q *QdrantStore) DeleteByChannel(ctx context.Context, channelID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(MetadataChannelIDKey, channelID)},
		}),
	})
	return err
}

func (q *QdrantStore) Dimension() int { return q.dimension }

func (q *QdrantStore) Close() error { return q.client.Close() }
