// Package cache provides an optional Redis-backed payload cache for
// fetched (dataset, year) responses. Re-runs within the TTL reuse the
// stored payload instead of spending upstream quota; with no Redis
// configured the fetcher always goes to the network.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no fresh entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL bounds how long a cached payload short-circuits a fetch.
const DefaultTTL = 24 * time.Hour

// Entry is a cached ok payload for one (dataset, year).
type Entry struct {
	// Payload is the raw JSON response body.
	Payload json.RawMessage `json:"payload"`

	// URL is the upstream request URL the payload came from.
	URL string `json:"url"`

	// StatusCode is the upstream HTTP status of the original fetch.
	StatusCode int `json:"status_code"`

	// FetchedAt is when the payload was fetched from upstream.
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache stores ok payloads in Redis under a fixed TTL.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a cache backed by the given Redis client. A non-positive
// ttl falls back to DefaultTTL.
func New(redisClient *redis.Client, ttl time.Duration) *Cache {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		redis: redisClient,
		ttl:   ttl,
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Key returns the deterministic cache key for one (dataset, year).
func Key(slug string, year int) string {
	return fmt.Sprintf("econfetch:payload:%s:%d", slug, year)
}

// Get retrieves the cached entry for (slug, year).
// Returns ErrCacheMiss when the key is absent or expired.
func (c *Cache) Get(ctx context.Context, slug string, year int) (*Entry, error) {
	data, err := c.redis.Get(ctx, Key(slug, year)).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores an entry for (slug, year); Redis expires it after the
// configured TTL.
func (c *Cache) Set(ctx context.Context, slug string, year int, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.redis.Set(ctx, Key(slug, year), data, c.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry for (slug, year), if any.
func (c *Cache) Delete(ctx context.Context, slug string, year int) error {
	if err := c.redis.Del(ctx, Key(slug, year)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
