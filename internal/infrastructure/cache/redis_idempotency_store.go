package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/distflow/backend/internal/domain/shared"
)

// RedisIdempotencyStore tracks processed reservation commands in Redis so
// that retried requests are detected across all sweeper and API instances.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisIdempotencyStore(addr, password string, db int) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: "lot:idempotency:",
	}, nil
}

// NewRedisIdempotencyStoreWithClient wraps an existing client. The caller
// keeps ownership of the client; Close is a no-op in that case too, since the
// store never owns more than the key namespace.
func NewRedisIdempotencyStoreWithClient(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: "lot:idempotency:",
	}
}

// MarkProcessed atomically records the command key. SetNX guarantees exactly
// one caller observes true for a given key within the TTL window.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark command as processed: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check command status: %w", err)
	}
	return n > 0, nil
}

// Unmark drops the key so a command that failed after marking can retry.
func (s *RedisIdempotencyStore) Unmark(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to unmark command: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

// GetClient exposes the underlying client so other components, such as the
// sweep leader lock, can share the connection pool.
func (s *RedisIdempotencyStore) GetClient() *redis.Client {
	return s.client
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
