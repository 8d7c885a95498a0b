// Redlock-based alternative to the SETNX manager, using
// go-redsync/redsync/v4. Selected with LOCK_BACKEND=redsync; useful when
// locks must survive a Redis failover, at the cost of extra round trips.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	apperrors "bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/redis"
)

// RedsyncManager implements Locker via the Redlock algorithm. It keeps
// the same acquire/release contract as Manager: bounded acquire wait,
// owner-checked release, renewal while held.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	logger     logging.Logger
	localLocks map[string]*redsyncLock
	mutex      sync.Mutex
}

type redsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	manager    *RedsyncManager
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRedsyncManager creates a Redlock manager on the shared Redis client.
func NewRedsyncManager(redisClient *redis.Client, logger logging.Logger) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, apperrors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "locks.redsync"}),
		localLocks: make(map[string]*redsyncLock),
	}, nil
}

// Acquire takes the Redlock for (resource, key), retrying internally
// until acquireTimeout. Redsync generates and checks its own random
// value per acquisition, giving the same owner-token guarantee as the
// SETNX manager.
func (m *RedsyncManager) Acquire(ctx context.Context, resource, key string, ttl, acquireTimeout time.Duration) (Lock, error) {
	lockKey := LockKey(resource, key)

	pollInterval := 100 * time.Millisecond
	tries := int(acquireTimeout/pollInterval) + 1

	mutex := m.redsync.NewMutex(lockKey,
		redsync.WithExpiry(ttl),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(pollInterval),
	)

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	if err := mutex.LockContext(acquireCtx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.ContentionError(lockKey)
		}
		return nil, apperrors.ConnectionError("redlock acquisition failed", err)
	}

	renewCtx, renewCancel := context.WithCancel(context.Background())
	lock := &redsyncLock{
		mutex:      mutex,
		key:        lockKey,
		expiration: ttl,
		manager:    m,
		ctx:        renewCtx,
		cancel:     renewCancel,
	}

	m.mutex.Lock()
	m.localLocks[lockKey] = lock
	m.mutex.Unlock()

	go m.renewLock(lock)

	return lock, nil
}

func (m *RedsyncManager) renewLock(lock *redsyncLock) {
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
			extended, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !extended {
				m.logger.Warn("Redlock renewal failed, releasing local state",
					logging.String("key", lock.key),
				)
				m.dropLock(lock)
				return
			}
		}
	}
}

func (m *RedsyncManager) dropLock(lock *redsyncLock) {
	m.mutex.Lock()
	delete(m.localLocks, lock.key)
	m.mutex.Unlock()
	lock.cancel()
}

func (l *redsyncLock) Key() string {
	return l.key
}

func (l *redsyncLock) Release(ctx context.Context) error {
	l.manager.dropLock(l)

	released, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		var mismatch *redsync.ErrTaken
		if errors.As(err, &mismatch) {
			l.manager.logger.Warn("Release skipped: redlock owned by another value",
				logging.String("key", l.key),
			)
			return nil
		}
		return apperrors.ConnectionError("redlock release failed", err)
	}
	if !released {
		l.manager.logger.Warn("Release skipped: redlock already expired",
			logging.String("key", l.key),
		)
	}
	return nil
}

func (l *redsyncLock) Extend(ctx context.Context, expiration time.Duration) error {
	extended, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return apperrors.ConnectionError("redlock extension failed", err)
	}
	if !extended {
		return apperrors.ContentionError(l.key).WithCode("LOCK_LOST")
	}
	l.expiration = expiration
	return nil
}

func (l *redsyncLock) IsHeld() bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
		return true
	}
}

// Close cancels renewal for all held locks; the Redlock values expire
// naturally.
func (m *RedsyncManager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, lock := range m.localLocks {
		lock.cancel()
	}

	m.localLocks = make(map[string]*redsyncLock)
	return nil
}
