// Package keystore persists the slug → destination mapping.
//
// Every driver enforces slug uniqueness itself and reports a duplicate insert
// as errx.Conflict, so callers can treat a lost check-then-insert race as
// "candidate taken" instead of overwriting another record.
package keystore

import (
	"context"
	"time"
)

// Record is one short link. Records are created once and never updated.
type Record struct {
	Slug           string    `json:"slug"`
	DestinationURL string    `json:"destination_url"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the narrow interface the link services depend on.
type Store interface {
	// Insert creates a record. Returns errx.Conflict when slug is taken.
	Insert(ctx context.Context, slug, destinationURL string) error
	// Exists reports whether a record with slug exists.
	Exists(ctx context.Context, slug string) (bool, error)
	// Find returns the record for slug, or errx.NotFound.
	Find(ctx context.Context, slug string) (Record, error)
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SlugLister streams every stored slug. The cache uses it to seed its bloom
// filter at startup.
type SlugLister interface {
	EachSlug(ctx context.Context, fn func(slug string) error) error
}

// Ping checks s when it supports it and is a no-op otherwise.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
