package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session records.
	SessionPrefix = "session:"
)

// RedisBackend stores each token's record blob as a Redis string at
// session:<token>.
type RedisBackend struct {
	client redis.UniversalClient
	keyTTL time.Duration // 0 = no Redis-side expiry
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithKeyTTL makes Redis drop a session key on its own after ttl. Expiry is
// still enforced lazily by the Unit; this only bounds storage for tokens that
// are never touched again. It must not be shorter than the max session
// duration or live sessions would disappear.
func WithKeyTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) {
		b.keyTTL = ttl
	}
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get retrieves the blob for token.
func (b *RedisBackend) Get(ctx context.Context, token string) ([]byte, error) {
	data, err := b.client.Get(ctx, SessionPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	return data, nil
}

// Put replaces the blob for token.
func (b *RedisBackend) Put(ctx context.Context, token string, data []byte) error {
	if err := b.client.Set(ctx, SessionPrefix+token, data, b.keyTTL).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Delete removes the blob for token.
func (b *RedisBackend) Delete(ctx context.Context, token string) error {
	if err := b.client.Del(ctx, SessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
