package keystore

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter answers "definitely not stored" for slug candidates so most
// allocation draws skip the backend existence check.
type BloomFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewBloomFilter sizes the filter for expectedItems at falsePositiveRate.
func NewBloomFilter(expectedItems uint, falsePositiveRate float64) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
}

func (b *BloomFilter) Add(slug string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.AddString(slug)
}

// MightExist returns false only when slug was never added.
func (b *BloomFilter) MightExist(slug string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.TestString(slug)
}

// Count estimates the number of added slugs.
func (b *BloomFilter) Count() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.ApproximatedSize()
}
