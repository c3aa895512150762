package cache

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RedisStore is a Store over Redis. Keys are stored as prefix+key without
// expiry. Close does not close the client, which the caller owns.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a store that uses client and prefixes every key.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.get")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", key))

	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache entry")
		return nil, false, &StorageError{Op: "get", Err: err}
	}
	return value, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, span := tracer.Start(ctx, "redis.put")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", key))

	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache entry")
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error { return nil }

var _ Store = (*RedisStore)(nil)
