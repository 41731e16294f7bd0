package keystore

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// notFoundSentinel marks a negative cache entry. It cannot collide with a
// Record value in L1 or with JSON in L2.
const notFoundSentinel = "__nil__"

// LocalCache is the in-process L1 in front of the store, built on ristretto.
type LocalCache struct {
	cache    *ristretto.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewLocalCache creates a cache bounded to maxItems entries. Each entry costs 1.
func NewLocalCache(maxItems int64, ttl, emptyTTL time.Duration) (*LocalCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
		// Count entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if emptyTTL <= 0 {
		emptyTTL = 10 * time.Second
	}
	return &LocalCache{cache: cache, ttl: ttl, emptyTTL: emptyTTL}, nil
}

// Get returns the cached record. negative is true when the slug is cached as
// missing; ok is false on a cache miss.
func (l *LocalCache) Get(slug string) (rec Record, negative, ok bool) {
	v, found := l.cache.Get(slug)
	if !found {
		return Record{}, false, false
	}
	switch x := v.(type) {
	case Record:
		return x, false, true
	case string:
		return Record{}, x == notFoundSentinel, x == notFoundSentinel
	default:
		return Record{}, false, false
	}
}

// Set caches rec for the positive TTL. Ristretto may drop the write under
// contention; callers treat the cache as best effort.
func (l *LocalCache) Set(rec Record) {
	l.cache.SetWithTTL(rec.Slug, rec, 1, l.ttl)
}

// SetNotFound remembers that slug has no record, for the shorter negative TTL.
func (l *LocalCache) SetNotFound(slug string) {
	l.cache.SetWithTTL(slug, notFoundSentinel, 1, l.emptyTTL)
}

func (l *LocalCache) Del(slug string) {
	l.cache.Del(slug)
}

// Wait blocks until buffered writes are applied.
func (l *LocalCache) Wait() {
	l.cache.Wait()
}

// Close stops the cache's background goroutines.
func (l *LocalCache) Close() {
	l.cache.Close()
}
