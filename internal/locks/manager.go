// Package locks provides the distributed mutual-exclusion and idempotency
// primitives the enrichment pipeline is built on. Locks are Redis
// set-if-absent-with-expiry keys holding a per-acquisition random owner
// token; release is a compare-and-delete that only the owner can perform.
// A second claimant polls until an acquire timeout elapses, then fails
// with a contention error so callers can tell "busy" from "broken".
//
// Example usage:
//
//	manager := locks.NewManager(redisClient, logger)
//	defer manager.Close()
//
//	lock, err := manager.Acquire(ctx, "part", "MPN-123", 2*time.Minute, 30*time.Second)
//	if err != nil {
//		return err // contention or infrastructure failure
//	}
//	defer lock.Release(ctx)
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
)

// RedisLockClient is the slice of the Redis client the lock manager needs.
type RedisLockClient interface {
	AcquireLock(ctx context.Context, key, token string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
	ExtendLock(ctx context.Context, key, token string, expiration time.Duration) (bool, error)
}

// Lock is a held distributed lock. Implementations are returned by a
// Locker and must be released on every exit path of the guarded section.
type Lock interface {
	// Key returns the full Redis key of the lock.
	Key() string

	// Release relinquishes the lock if this instance still owns it.
	// A lost ownership (expiry and reacquisition elsewhere) is a logged
	// no-op, never a force-delete of someone else's lock.
	Release(ctx context.Context) error

	// Extend refreshes the lock expiry for the current owner.
	Extend(ctx context.Context, expiration time.Duration) error

	// IsHeld reports whether this instance still believes it owns the
	// lock. Local state only; it does not query Redis.
	IsHeld() bool
}

// Locker acquires distributed locks. Manager and RedsyncManager both
// implement it so the backend is swappable at wiring time.
type Locker interface {
	Acquire(ctx context.Context, resource, key string, ttl, acquireTimeout time.Duration) (Lock, error)
	Close() error
}

// Manager implements Locker on the set-if-absent-with-expiry primitive.
// It tracks held locks locally and renews each at a third of its TTL so
// a long step does not lose its lock mid-flight; a crashed process stops
// renewing and the TTL reclaims the key.
//
// Manager is safe for concurrent use by multiple goroutines.
type Manager struct {
	redis        RedisLockClient
	logger       logging.Logger
	pollInterval time.Duration
	localLocks   map[string]*localLock
	mutex        sync.Mutex
}

type localLock struct {
	key        string
	token      string
	expiration time.Duration
	manager    *Manager
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManager creates a lock manager on the given Redis client. Claimants
// poll every 100ms while waiting on a contended lock.
func NewManager(redisClient RedisLockClient, logger logging.Logger) *Manager {
	return &Manager{
		redis:        redisClient,
		logger:       logger.WithFields(logging.Field{Key: "component", Value: "locks"}),
		pollInterval: 100 * time.Millisecond,
		localLocks:   make(map[string]*localLock),
	}
}

// LockKey builds the namespaced Redis key for a resource lock.
func LockKey(resource, key string) string {
	return fmt.Sprintf("lock:%s:%s", resource, key)
}

// Acquire attempts to take the lock for (resource, key), blocking up to
// acquireTimeout. Each call uses a fresh random owner token, so two
// concurrent claimants can never mistake each other's lock for their own.
// On timeout it returns a contention error distinct from infrastructure
// failures.
func (m *Manager) Acquire(ctx context.Context, resource, key string, ttl, acquireTimeout time.Duration) (Lock, error) {
	lockKey := LockKey(resource, key)
	token := uuid.NewString()

	deadline := time.Now().Add(acquireTimeout)
	for {
		acquired, err := m.redis.AcquireLock(ctx, lockKey, token, ttl)
		if err != nil {
			return nil, errors.ConnectionError("lock acquisition failed", err)
		}
		if acquired {
			break
		}

		if time.Now().After(deadline) {
			return nil, errors.ContentionError(lockKey)
		}

		select {
		case <-ctx.Done():
			return nil, errors.TimeoutError("lock acquisition", ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	lock := &localLock{
		key:        lockKey,
		token:      token,
		expiration: ttl,
		manager:    m,
		ctx:        renewCtx,
		cancel:     cancel,
	}

	m.mutex.Lock()
	m.localLocks[lockKey] = lock
	m.mutex.Unlock()

	go m.renewLock(lock)

	return lock, nil
}

// renewLock refreshes a held lock at a third of its TTL (minimum one
// second). A failed renewal means the lock was lost; the local state is
// torn down so IsHeld turns false.
func (m *Manager) renewLock(lock *localLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			extended, err := m.redis.ExtendLock(ctx, lock.key, lock.token, lock.expiration)
			cancel()

			if err != nil || !extended {
				m.logger.Warn("Lock renewal failed, releasing local state",
					logging.String("key", lock.key),
					logging.Bool("still_owner", extended),
				)
				m.dropLock(lock)
				return
			}
		}
	}
}

func (m *Manager) dropLock(lock *localLock) {
	m.mutex.Lock()
	delete(m.localLocks, lock.key)
	m.mutex.Unlock()
	lock.cancel()
}

// Key returns the full Redis key of the lock.
func (l *localLock) Key() string {
	return l.key
}

// Release performs the owner-checked compare-and-delete and stops
// renewal. Safe to call multiple times.
func (l *localLock) Release(ctx context.Context) error {
	l.manager.dropLock(l)

	released, err := l.manager.redis.ReleaseLock(ctx, l.key, l.token)
	if err != nil {
		return errors.ConnectionError("lock release failed", err)
	}
	if !released {
		// Expired and reacquired by someone else; their lock stays.
		l.manager.logger.Warn("Release skipped: lock owned by another token",
			logging.String("key", l.key),
		)
	}
	return nil
}

// Extend refreshes the lock expiry and updates the renewal interval
// baseline for future renewals.
func (l *localLock) Extend(ctx context.Context, expiration time.Duration) error {
	extended, err := l.manager.redis.ExtendLock(ctx, l.key, l.token, expiration)
	if err != nil {
		return errors.ConnectionError("lock extension failed", err)
	}
	if !extended {
		return errors.ContentionError(l.key).WithCode("LOCK_LOST")
	}
	l.expiration = expiration
	return nil
}

// IsHeld reports whether the renewal loop is still active.
func (l *localLock) IsHeld() bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
		return true
	}
}

// Close cancels renewal for all held locks. The keys expire naturally in
// Redis; Close is for process shutdown, not for releasing work mid-step.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, lock := range m.localLocks {
		lock.cancel()
	}

	m.localLocks = make(map[string]*localLock)
	return nil
}
