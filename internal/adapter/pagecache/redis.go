package pagecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "crop-climate-etl:page:"

// RedisStore keeps CDO pages in Redis so repeated runs can skip requests
// already served. Entries expire after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get returns the stored page for key. A missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (domain.Page, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Page{}, false, nil
	}
	if err != nil {
		return domain.Page{}, false, fmt.Errorf("redis get: %w", err)
	}

	var page domain.Page
	if err := json.Unmarshal(data, &page); err != nil {
		return domain.Page{}, false, fmt.Errorf("decode cached page: %w", err)
	}
	return page, true, nil
}

// Set stores page under key.
func (s *RedisStore) Set(ctx context.Context, key string, page domain.Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
