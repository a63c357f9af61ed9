package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores completions by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// DefaultMemoryCacheEntries bounds a MemoryCache built by NewMemoryCache.
const DefaultMemoryCacheEntries = 4096

// MemoryCache is an in-process Cache for single-binary use and tests. It holds
// at most max entries; a full cache first drops expired entries, then the oldest.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	max  int
	seq  uint64
	now  func() time.Time
}

type cacheEntry struct {
	value     string
	expiresAt time.Time // zero = never
	seq       uint64
}

func NewMemoryCache() *MemoryCache {
	return NewBoundedMemoryCache(DefaultMemoryCacheEntries)
}

// NewBoundedMemoryCache caps the cache at limit entries; limit <= 0 uses the default.
func NewBoundedMemoryCache(limit int) *MemoryCache {
	if limit <= 0 {
		limit = DefaultMemoryCacheEntries
	}
	return &MemoryCache{data: make(map[string]cacheEntry), max: limit, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if c.expired(e, c.now()) {
		delete(c.data, key)
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.max {
		c.evict(now)
	}
	c.seq++
	e := cacheEntry{value: value, seq: c.seq}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.data[key] = e
	return nil
}

func (c *MemoryCache) expired(e cacheEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// evict runs with mu held and frees at least one slot.
func (c *MemoryCache) evict(now time.Time) {
	oldestKey, oldestSeq := "", uint64(0)
	for k, e := range c.data {
		if c.expired(e, now) {
			delete(c.data, k)
			continue
		}
		if oldestKey == "" || e.seq < oldestSeq {
			oldestKey, oldestSeq = k, e.seq
		}
	}
	if len(c.data) >= c.max && oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// RedisCache keeps completions in Redis so several workers share them.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "p2s:completion:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CacheKey is sha256(model, prompt) in hex.
func CacheKey(model, prompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

type noCacheKey struct{}

// WithoutCache marks ctx so a CachedCompleter neither reads nor stores the reply.
// Generation passes use it: a rejected reply must not be replayed for the same prompt.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, noCacheKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(noCacheKey{}).(bool)
	return v
}

// CachedCompleter serves repeated prompts from a Cache. Failures are never cached,
// and cache errors only cost a call to the wrapped Completer.
type CachedCompleter struct {
	next   Completer
	cache  Cache
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedCompleter(next Completer, cache Cache, model string, ttl time.Duration, logger *slog.Logger) *CachedCompleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCompleter{next: next, cache: cache, model: model, ttl: ttl, logger: logger}
}

func (c *CachedCompleter) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if cacheBypassed(ctx) {
		return c.next.Complete(ctx, prompt, timeout)
	}
	key := CacheKey(c.model, prompt)
	v, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.Debug("llm.cache.hit", "key", key[:12])
		return v, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("llm.cache.get_failed", "error", err)
	}

	out, err := c.next.Complete(ctx, prompt, timeout)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.logger.Warn("llm.cache.set_failed", "error", err)
	}
	return out, nil
}
