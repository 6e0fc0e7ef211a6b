// Package redis provides the per-contact advisory lock that serializes
// mutating registration steps across instances.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/pkg/id"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "registration:lock:"

// unlockScript deletes the key only if it still holds our token, so an expired
// lock re-acquired by another instance is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewClient parses url and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Locker holds short-lived SET NX locks keyed by contact key.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Lock acquires the lock for key or fails with ErrTryLater if another request holds it.
// The returned release func is safe to call once the work is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := id.New()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrTryLater
	}
	return func() {
		_ = unlockScript.Run(context.WithoutCancel(ctx), l.client, []string{lockKeyPrefix + key}, token).Err()
	}, nil
}

// NoopLocker is used when REDIS_URL is unset; conditional writes still guard every step.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
