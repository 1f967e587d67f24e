package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// responseTTL is the full-response cache lifetime (spec §4.7 step 6).
const responseTTL = 5 * time.Minute

// responseCache caches assembled SearchResponses by a canonical fingerprint
// of the query. It prefers Redis when configured, falling back to an
// in-process TTL map otherwise, mirroring the teacher's Redis-or-nil skills
// cache shape.
type responseCache struct {
	redis redis.UniversalClient
	local *localCache
	log   zerolog.Logger
}

func newResponseCache(addr string, log zerolog.Logger) *responseCache {
	c := &responseCache{log: log}
	if addr == "" {
		c.local = newLocalCache()
		return c
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("search cache redis unreachable, falling back to in-process cache")
		c.local = newLocalCache()
		return c
	}
	c.redis = client
	return c
}

// fingerprint builds the cache key from spec §4.7 step 6: hash(enhanced_text,
// top_k, filters_canonical).
func fingerprint(enhancedText string, topK int, filters Filters) string {
	var sb strings.Builder
	sb.WriteString(enhancedText)
	fmt.Fprintf(&sb, "|%d|", topK)

	keys := filters.canonicalPairs()
	sort.Strings(keys)
	sb.WriteString(strings.Join(keys, ","))

	sum := sha256.Sum256([]byte(sb.String()))
	return "search:resp:" + hex.EncodeToString(sum[:16])
}

func (c *responseCache) Get(ctx context.Context, key string) (*Response, bool) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		if err != nil {
			if err != redis.Nil {
				c.log.Debug().Err(err).Str("key", key).Msg("search cache redis get error")
			}
			return nil, false
		}
		var resp Response
		if err := json.Unmarshal([]byte(val), &resp); err != nil {
			return nil, false
		}
		return &resp, true
	}
	return c.local.get(key)
}

func (c *responseCache) Set(ctx context.Context, key string, resp Response) {
	if c.redis != nil {
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if err := c.redis.Set(ctx, key, data, responseTTL).Err(); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("search cache redis set error")
		}
		return
	}
	c.local.set(key, resp)
}

// localCache is the in-process fallback used when SEARCH_CACHE_REDIS_ADDR
// is unset.
type localCache struct {
	mu sync.Mutex
	m  map[string]localEntry
}

type localEntry struct {
	resp Response
	at   time.Time
}

func newLocalCache() *localCache { return &localCache{m: make(map[string]localEntry)} }

func (c *localCache) get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || time.Since(e.at) > responseTTL {
		return nil, false
	}
	resp := e.resp
	return &resp, true
}

func (c *localCache) set(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = localEntry{resp: resp, at: time.Now()}
}
