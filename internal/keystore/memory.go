package keystore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sundayezeilo/upae/internal/errx"
)

// MemoryStore keeps records in process memory. It backs KEYSTORE_DRIVER=memory
// for local runs and is the store used by service tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (m *MemoryStore) Insert(ctx context.Context, slug, destinationURL string) error {
	const op = "keystore.memory.Insert"

	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Internal, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.records[slug]; taken {
		return errx.E(op, errx.Conflict, errors.New("slug already exists"))
	}
	m.records[slug] = Record{
		Slug:           slug,
		DestinationURL: destinationURL,
		CreatedAt:      m.now().UTC(),
	}
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, slug string) (bool, error) {
	const op = "keystore.memory.Exists"

	if err := ctx.Err(); err != nil {
		return false, errx.E(op, errx.Internal, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[slug]
	return ok, nil
}

func (m *MemoryStore) Find(ctx context.Context, slug string) (Record, error) {
	const op = "keystore.memory.Find"

	if err := ctx.Err(); err != nil {
		return Record{}, errx.E(op, errx.Internal, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[slug]
	if !ok {
		return Record{}, errx.E(op, errx.NotFound, errors.New("slug not found"))
	}
	return rec, nil
}

func (m *MemoryStore) EachSlug(ctx context.Context, fn func(string) error) error {
	m.mu.RLock()
	slugs := make([]string, 0, len(m.records))
	for slug := range m.records {
		slugs = append(slugs, slug)
	}
	m.mu.RUnlock()

	for _, slug := range slugs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(slug); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
