package vectorstore

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"chatvector/internal/errs"
	"chatvector/internal/logging"
)

// fileRecord is the NDJSON wire shape persisted to disk, one line per point.
type fileRecord struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata"`
}

type entry struct {
	v        []float32
	metadata map[string]string
}

// MemoryStore is the local, file-backed fallback VectorStore: brute-force
// cosine similarity over an in-memory map, append-only NDJSON persistence
// with periodic compaction so a restart does not lose data (spec §4.4,
// §5/§6.2's durability note).
type MemoryStore struct {
	mu       sync.RWMutex
	vectors  map[string]entry
	path     string
	appendN  int
	lastSave time.Time

	sinceCompact  int
	compactEvery  int
	compactPeriod time.Duration
}

// NewMemoryStore constructs a MemoryStore backed by path (an NDJSON file);
// an empty path disables persistence entirely (pure in-memory, test-only
// use). Existing contents at path are loaded on construction.
func NewMemoryStore(path string) (*MemoryStore, error) {
	m := &MemoryStore{
		vectors:       make(map[string]entry),
		path:          path,
		compactEvery:  500,
		compactPeriod: 30 * time.Second,
		lastSave:      time.Now(),
	}
	if path == "" {
		return m, nil
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MemoryStore) load() error {
	f, err := os.Open(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindPersistenceWriteFailed, false, err, "open vector store file %s", m.path)
	}
	defer f.Close()

	log := logging.For("vectorstore")
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	loaded := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn().Err(err).Msg("skipping malformed vector store record")
			continue
		}
		m.vectors[rec.ID] = entry{v: rec.Vector, metadata: rec.Metadata}
		loaded++
	}
	if err := sc.Err(); err != nil {
		return errs.Wrap(errs.KindPersistenceWriteFailed, false, err, "scan vector store file %s", m.path)
	}
	log.Info().Int("loaded", loaded).Str("path", m.path).Msg("loaded vector store from disk")
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, batch []Point) error {
	if len(batch) > MaxBatch {
		return errs.New(errs.KindUpstreamInvalid, false, "upsert batch of %d exceeds max %d", len(batch), MaxBatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range batch {
		cp := make([]float32, len(p.Vector))
		copy(cp, p.Vector)
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		m.vectors[p.ID] = entry{v: cp, metadata: md}
	}
	m.lastSave = time.Now()
	m.sinceCompact += len(batch)

	if m.path == "" {
		return nil
	}
	if err := m.appendRecords(batch); err != nil {
		return err
	}
	if m.sinceCompact >= m.compactEvery || time.Since(m.lastSave) >= m.compactPeriod {
		m.sinceCompact = 0
		return m.compactLocked()
	}
	return nil
}

// appendRecords writes batch to the NDJSON file in append mode; caller must
// hold m.mu.
func (m *MemoryStore) appendRecords(batch []Point) error {
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceWriteFailed, true, err, "open vector store file for append")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, p := range batch {
		if err := enc.Encode(fileRecord{ID: p.ID, Vector: p.Vector, Metadata: p.Metadata}); err != nil {
			return errs.Wrap(errs.KindPersistenceWriteFailed, true, err, "append vector store record")
		}
	}
	return nil
}

// compactLocked rewrites the NDJSON file from the current in-memory state,
// collapsing duplicate-id append history into one record per id. Caller
// must hold m.mu.
func (m *MemoryStore) compactLocked() error {
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceWriteFailed, true, err, "create compaction temp file")
	}
	enc := json.NewEncoder(f)
	for id, e := range m.vectors {
		if err := enc.Encode(fileRecord{ID: id, Vector: e.v, Metadata: e.metadata}); err != nil {
			f.Close()
			os.Remove(tmp)
			return errs.Wrap(errs.KindPersistenceWriteFailed, true, err, "write compacted record")
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindPersistenceWriteFailed, true, err, "close compaction temp file")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errs.Wrap(errs.KindPersistenceWriteFailed, true, err, "rename compacted vector store file")
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, vector []float32, topK int, filter Filter) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topK <= 0 {
		topK = 10
	}
	qnorm := norm(vector)
	results := make([]Result, 0, len(m.vectors))
	for id, e := range m.vectors {
		if !matchesFilter(e.metadata, filter) {
			continue
		}
		s := cosine(vector, e.v, qnorm)
		results = append(results, Result{ID: id, Score: s, Metadata: copyMap(e.metadata)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Metadata[MetadataTSKey] > results[j].Metadata[MetadataTSKey]
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channels := make(map[string]struct{})
	for _, e := range m.vectors {
		if ch := e.metadata[MetadataChannelIDKey]; ch != "" {
			channels[ch] = struct{}{}
		}
	}
	return Stats{
		TotalVectors: len(m.vectors),
		Channels:     len(channels),
		LastUpsertAt: m.lastSave,
	}, nil
}

func (m *MemoryStore) DeleteByChannel(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.vectors {
		if e.metadata[MetadataChannelIDKey] == channelID {
			delete(m.vectors, id)
		}
	}
	if m.path == "" {
		return nil
	}
	return m.compactLocked()
}

func matchesFilter(md map[string]string, f Filter) bool {
	for k, v := range f.Equals {
		if md[k] != v {
			return false
		}
	}
	if f.TSFrom == 0 && f.TSTo == 0 {
		return true
	}
	ts, err := strconv.ParseInt(md[MetadataTSKey], 10, 64)
	if err != nil {
		return false
	}
	if f.TSFrom != 0 && ts < f.TSFrom {
		return false
	}
	if f.TSTo != 0 && ts > f.TSTo {
		return false
	}
	return true
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
