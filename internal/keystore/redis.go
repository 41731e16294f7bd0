package keystore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/upae/internal/errx"
)

const redisKeyPrefix = "link:"

// RedisStore keeps one key per record: link:<slug> → destination URL, with
// no expiry. SETNX gives the uniqueness guarantee.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a store backed by client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(slug string) string { return redisKeyPrefix + slug }

func (s *RedisStore) Insert(ctx context.Context, slug, destinationURL string) error {
	const op = "keystore.redis.Insert"

	ok, err := s.client.SetNX(ctx, redisKey(slug), destinationURL, 0).Result()
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}
	if !ok {
		return errx.E(op, errx.Conflict, errors.New("slug already exists"))
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, slug string) (bool, error) {
	const op = "keystore.redis.Exists"

	n, err := s.client.Exists(ctx, redisKey(slug)).Result()
	if err != nil {
		return false, errx.E(op, errx.Internal, err)
	}
	return n > 0, nil
}

// Find returns a record without CreatedAt; the Redis layout stores only the
// destination.
func (s *RedisStore) Find(ctx context.Context, slug string) (Record, error) {
	const op = "keystore.redis.Find"

	dest, err := s.client.Get(ctx, redisKey(slug)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, errx.E(op, errx.NotFound, errors.New("slug not found"))
	}
	if err != nil {
		return Record{}, errx.E(op, errx.Internal, err)
	}
	return Record{Slug: slug, DestinationURL: dest}, nil
}

func (s *RedisStore) EachSlug(ctx context.Context, fn func(string) error) error {
	const op = "keystore.redis.EachSlug"

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()[len(redisKeyPrefix):]); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return errx.E(op, errx.Internal, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	const op = "keystore.redis.Ping"
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}
