package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "adjutant:knowledge:"

// QueryCache keeps semantic search results in redis for a short TTL. It holds
// org-global corpus results only; a miss or a redis failure just means a live
// query.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewQueryCache(client *redis.Client, ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{client: client, ttl: ttl}
}

// CacheKey derives the redis key for one search call.
func CacheKey(query, category string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", query, category, limit)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:16])
}

// Get returns cached results and whether the key was present.
func (c *QueryCache) Get(ctx context.Context, key string) ([]Result, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("knowledge: cache get: %v", err)
		return nil, false
	}
	var results []Result
	if err := json.Unmarshal(payload, &results); err != nil {
		log.Printf("knowledge: cache decode: %v", err)
		return nil, false
	}
	return results, true
}

// Put stores results under key. Failures are logged and dropped.
func (c *QueryCache) Put(ctx context.Context, key string, results []Result) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Printf("knowledge: cache put: %v", err)
	}
}
