package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a Redis client and verifies connectivity.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Locker holds short-lived exclusive locks in redis so that only one process
// runs a given critical section at a time.
type Locker struct {
	client redis.UniversalClient
}

// NewLocker wraps client.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// TryLock claims key for ttl. It reports false when another holder owns it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("platform/cache: lock %s: %w", key, err)
	}
	return ok, nil
}

// Unlock releases key.
func (l *Locker) Unlock(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("platform/cache: unlock %s: %w", key, err)
	}
	return nil
}
