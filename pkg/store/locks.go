package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
)

// AdvisoryLockManager implements contracts.LockManager on Postgres session
// advisory locks. Each Acquire pins a dedicated connection so the lock
// lifetime tracks the release call, not pool churn.
type AdvisoryLockManager struct {
	db *sql.DB
}

func NewAdvisoryLockManager(db *sql.DB) *AdvisoryLockManager {
	return &AdvisoryLockManager{db: db}
}

func (m *AdvisoryLockManager) Acquire(ctx context.Context, name string) (func(), error) {
	key := lockKey(name)
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire advisory lock %q: %w", name, err)
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			// Background context: release must proceed even when the
			// caller's context is already cancelled.
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
			_ = conn.Close()
		})
	}
	return release, nil
}

// lockKey maps a lock name onto the bigint space advisory locks use.
func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// MemoryLockManager implements contracts.LockManager in-process. Suitable
// for single-node deployments (SQLite) and tests.
type MemoryLockManager struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

type memoryLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{locks: make(map[string]*memoryLock)}
}

func (m *MemoryLockManager) Acquire(ctx context.Context, name string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &memoryLock{ch: make(chan struct{}, 1)}
		m.locks[name] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(name, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-l.ch
			m.unref(name, l)
		})
	}
	return release, nil
}

func (m *MemoryLockManager) unref(name string, l *memoryLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, name)
	}
}
