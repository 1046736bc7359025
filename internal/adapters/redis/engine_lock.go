package redis

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/pkg/logger"
)

// LockManager is the distributed-lock surface EngineLock needs; satisfied by
// *redlock.RedLock.
type LockManager interface {
	Lock(ctx context.Context, resource string, ttl time.Duration) (time.Duration, error)
	UnLock(ctx context.Context, resource string) error
}

// EngineLock enforces the single-writer assumption: exactly one process owns
// a given index's computation. Acquired once at start-up and renewed in the
// background until the context ends.
type EngineLock struct {
	lockManager LockManager
	lockName    string
	ttl         time.Duration
	// locked is read by the renew goroutine while Release writes it.
	locked atomic.Bool
}

// NewEngineLock creates the ownership lock for one index.
func NewEngineLock(lockManager LockManager, lockName string, ttl time.Duration) *EngineLock {
	return &EngineLock{
		lockManager: lockManager,
		lockName:    lockName,
		ttl:         ttl,
	}
}

// TryAcquire attempts to take the lock. Returns false when another process
// already owns the index.
func (l *EngineLock) TryAcquire(ctx context.Context) (bool, error) {
	expiry, err := l.lockManager.Lock(ctx, l.lockName, l.ttl)
	if err != nil {
		logger.Debug("engine lock already held by another process",
			zap.String("lock", l.lockName),
		)
		return false, nil
	}
	if expiry <= 0 {
		return false, nil
	}

	l.locked.Store(true)
	logger.Info("engine lock acquired",
		zap.String("lock", l.lockName),
		zap.Duration("ttl", l.ttl),
	)

	go l.renew(ctx)
	return true, nil
}

// Release gives the lock up.
func (l *EngineLock) Release(ctx context.Context) error {
	if !l.locked.Swap(false) {
		return nil
	}

	if err := l.lockManager.UnLock(ctx, l.lockName); err != nil {
		logger.Warn("failed to release engine lock (may have already expired)",
			zap.String("lock", l.lockName),
			zap.Error(err),
		)
		return err
	}
	logger.Info("engine lock released", zap.String("lock", l.lockName))
	return nil
}

// renew refreshes the lock at a third of the TTL until the context ends.
func (l *EngineLock) renew(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.locked.Load() {
				return
			}
			if _, err := l.lockManager.Lock(ctx, l.lockName, l.ttl); err != nil {
				logger.Error("failed to renew engine lock",
					zap.String("lock", l.lockName),
					zap.Error(err),
				)
			}
		}
	}
}
