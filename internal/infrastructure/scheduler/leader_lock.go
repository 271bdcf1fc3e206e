package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// unlockScript releases the lock only when the holder token still matches,
// so a slow sweep cannot delete a lock another instance has since acquired.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// LeaderLock elects a single sweep runner across instances via a Redis
// SET NX lease. The lock expires on its own if the holder dies mid-sweep.
type LeaderLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func NewLeaderLock(client *redis.Client, key, token string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{
		client: client,
		key:    key,
		token:  token,
		ttl:    ttl,
	}
}

// Acquire returns true when this instance won the lease.
func (l *LeaderLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire leader lock: %w", err)
	}
	return ok, nil
}

// Release drops the lease if this instance still holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release leader lock: %w", err)
	}
	return nil
}
