package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/upae/internal/errx"
	"github.com/sundayezeilo/upae/internal/metrics"
)

const cacheKeyPrefix = "cache:link:"

// CacheConfig selects the layers of a CachedStore. Every layer is optional.
type CacheConfig struct {
	Local *LocalCache
	Redis redis.UniversalClient
	Bloom *BloomFilter

	// TTL and EmptyTTL apply to L2 entries and default to 1h and 30s.
	TTL      time.Duration
	EmptyTTL time.Duration

	Logger *slog.Logger
}

// CachedStore decorates a Store with an L1 process cache, an optional Redis
// L2 and a bloom filter.
//
// Records never change once written, so positive entries are always valid.
// Negative entries can be stale for up to their TTL when another instance
// inserts the slug; Find may then report NotFound briefly, and Exists may
// report false, which the backend's uniqueness check turns into a Conflict
// on Insert.
type CachedStore struct {
	backend  Store
	local    *LocalCache
	redis    redis.UniversalClient
	bloom    *BloomFilter
	ttl      time.Duration
	emptyTTL time.Duration
	logger   *slog.Logger
}

// NewCachedStore layers cfg's caches over backend. Zero TTLs take the
// defaults; nil Redis or Bloom disables that layer.
func NewCachedStore(backend Store, cfg CacheConfig) *CachedStore {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CachedStore{
		backend:  backend,
		local:    cfg.Local,
		redis:    cfg.Redis,
		bloom:    cfg.Bloom,
		ttl:      cfg.TTL,
		emptyTTL: cfg.EmptyTTL,
		logger:   cfg.Logger,
	}
}

// Warm seeds the bloom filter from the backend. It returns the number of
// slugs added; without a bloom filter or a listing backend it does nothing.
func (c *CachedStore) Warm(ctx context.Context) (int, error) {
	lister, ok := c.backend.(SlugLister)
	if c.bloom == nil || !ok {
		return 0, nil
	}
	n := 0
	err := lister.EachSlug(ctx, func(slug string) error {
		c.bloom.Add(slug)
		n++
		return nil
	})
	return n, err
}

func (c *CachedStore) Insert(ctx context.Context, slug, destinationURL string) error {
	if err := c.backend.Insert(ctx, slug, destinationURL); err != nil {
		if errx.Is(err, errx.Conflict) {
			// Someone else owns the slug; drop any stale negative entry.
			c.forget(ctx, slug)
		}
		return err
	}

	if c.bloom != nil {
		c.bloom.Add(slug)
	}
	// Replaces any negative entry left by earlier lookups.
	c.store(ctx, Record{Slug: slug, DestinationURL: destinationURL, CreatedAt: time.Now().UTC()})
	return nil
}

func (c *CachedStore) Exists(ctx context.Context, slug string) (bool, error) {
	if c.bloom != nil {
		if !c.bloom.MightExist(slug) {
			metrics.CacheOperations.WithLabelValues("bloom", "hit_negative").Inc()
			return false, nil
		}
		metrics.CacheOperations.WithLabelValues("bloom", "miss").Inc()
	}

	if _, negative, ok := c.lookup(ctx, slug); ok {
		return !negative, nil
	}
	return c.backend.Exists(ctx, slug)
}

func (c *CachedStore) Find(ctx context.Context, slug string) (Record, error) {
	const op = "keystore.cache.Find"

	if rec, negative, ok := c.lookup(ctx, slug); ok {
		if negative {
			return Record{}, errx.E(op, errx.NotFound, errors.New("slug not found (cached)"))
		}
		return rec, nil
	}

	rec, err := c.backend.Find(ctx, slug)
	if err != nil {
		if errx.Is(err, errx.NotFound) {
			c.storeNotFound(ctx, slug)
		}
		return Record{}, err
	}
	c.store(ctx, rec)
	return rec, nil
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := Ping(ctx, c.backend); err != nil {
		return err
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return errx.E("keystore.cache.Ping", errx.Unavailable, err)
		}
	}
	return nil
}

// Close releases the L1 cache. The Redis client is owned by the caller.
func (c *CachedStore) Close() {
	if c.local != nil {
		c.local.Close()
	}
}

// lookup consults L1 then L2 and backfills L1 from L2. ok is false on a miss
// at every level.
func (c *CachedStore) lookup(ctx context.Context, slug string) (rec Record, negative, ok bool) {
	if c.local != nil {
		if rec, negative, ok := c.local.Get(slug); ok {
			metrics.CacheOperations.WithLabelValues("l1", hitResult(negative)).Inc()
			return rec, negative, true
		}
		metrics.CacheOperations.WithLabelValues("l1", "miss").Inc()
	}

	if c.redis == nil {
		return Record{}, false, false
	}

	raw, err := c.redis.Get(ctx, cacheKeyPrefix+slug).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOperations.WithLabelValues("l2", "miss").Inc()
		return Record{}, false, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "l2 cache read failed", "slug", slug, "error", err)
		return Record{}, false, false
	}

	if raw == notFoundSentinel {
		metrics.CacheOperations.WithLabelValues("l2", "hit_negative").Inc()
		if c.local != nil {
			c.local.SetNotFound(slug)
		}
		return Record{}, true, true
	}

	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Slug != slug {
		c.logger.WarnContext(ctx, "l2 cache entry unreadable", "slug", slug, "error", err)
		return Record{}, false, false
	}
	metrics.CacheOperations.WithLabelValues("l2", "hit").Inc()
	if c.local != nil {
		c.local.Set(rec)
	}
	return rec, false, true
}

func (c *CachedStore) store(ctx context.Context, rec Record) {
	if c.local != nil {
		c.local.Set(rec)
	}
	if c.redis == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKeyPrefix+rec.Slug, body, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "l2 cache write failed", "slug", rec.Slug, "error", err)
	}
}

func (c *CachedStore) storeNotFound(ctx context.Context, slug string) {
	if c.local != nil {
		c.local.SetNotFound(slug)
	}
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKeyPrefix+slug, notFoundSentinel, c.emptyTTL).Err(); err != nil {
		c.logger.WarnContext(ctx, "l2 cache write failed", "slug", slug, "error", err)
	}
}

func (c *CachedStore) forget(ctx context.Context, slug string) {
	if c.bloom != nil {
		c.bloom.Add(slug)
	}
	if c.local != nil {
		c.local.Del(slug)
	}
	if c.redis != nil {
		if err := c.redis.Del(ctx, cacheKeyPrefix+slug).Err(); err != nil {
			c.logger.WarnContext(ctx, "l2 cache delete failed", "slug", slug, "error", err)
		}
	}
}

func hitResult(negative bool) string {
	if negative {
		return "hit_negative"
	}
	return "hit"
}
