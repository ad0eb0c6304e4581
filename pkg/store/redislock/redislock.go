// Package redislock implements contracts.LockManager on Redis for
// multi-node deployments where Postgres advisory locks are unavailable.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "evidentry:lock:"
	defaultTTL    = 30 * time.Second
	retryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock key only when it still carries this
// holder's token, so an expired-and-reacquired lock is never released by
// the stale holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Manager acquires named locks via SET NX with a TTL and releases them with
// a compare-and-delete script.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the lock TTL after which an abandoned lock self-expires.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func New(client *redis.Client, opts ...Option) *Manager {
	m := &Manager{client: client, ttl: defaultTTL}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until the named lock is held or ctx is done.
func (m *Manager) Acquire(ctx context.Context, name string) (func(), error) {
	key := keyPrefix + name
	token := uuid.New().String()

	for {
		ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", name, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Background context: release must proceed even when the
			// caller's context is already cancelled.
			_, _ = releaseScript.Run(context.Background(), m.client, []string{key}, token).Result()
		})
	}
	return release, nil
}
