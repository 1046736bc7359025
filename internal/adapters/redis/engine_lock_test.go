package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubLockManager struct {
	mu          sync.Mutex
	lockErr     error
	lockCalls   int
	unlockCalls int
}

func (s *stubLockManager) Lock(ctx context.Context, resource string, ttl time.Duration) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockCalls++
	if s.lockErr != nil {
		return 0, s.lockErr
	}
	return ttl, nil
}

func (s *stubLockManager) UnLock(ctx context.Context, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlockCalls++
	return nil
}

func (s *stubLockManager) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockCalls, s.unlockCalls
}

func TestEngineLock(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		manager := &stubLockManager{}
		lock := NewEngineLock(manager, "test:engine", time.Minute)

		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if !acquired {
			t.Fatal("expected to acquire the lock")
		}

		if err := lock.Release(ctx); err != nil {
			t.Fatalf("release failed: %v", err)
		}
		if _, unlocks := manager.counts(); unlocks != 1 {
			t.Errorf("expected 1 unlock, got %d", unlocks)
		}

		// Releasing an already-released lock is a no-op.
		if err := lock.Release(ctx); err != nil {
			t.Fatalf("second release failed: %v", err)
		}
		if _, unlocks := manager.counts(); unlocks != 1 {
			t.Errorf("second release must not call the manager, got %d unlocks", unlocks)
		}
	})

	t.Run("held elsewhere reports false without error", func(t *testing.T) {
		ctx := context.Background()
		manager := &stubLockManager{lockErr: errors.New("resource locked")}
		lock := NewEngineLock(manager, "test:engine", time.Minute)

		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acquired {
			t.Error("lock held elsewhere must not be acquired")
		}
	})

	t.Run("renewal stops after release", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		manager := &stubLockManager{}
		lock := NewEngineLock(manager, "test:engine", 30*time.Millisecond)

		acquired, err := lock.TryAcquire(ctx)
		if err != nil || !acquired {
			t.Fatalf("acquire failed: acquired=%v err=%v", acquired, err)
		}
		if err := lock.Release(ctx); err != nil {
			t.Fatalf("release failed: %v", err)
		}

		// Give the renew ticker time to observe the released flag and exit.
		time.Sleep(100 * time.Millisecond)
		locksAfter, _ := manager.counts()
		time.Sleep(100 * time.Millisecond)
		locksLater, _ := manager.counts()
		if locksLater != locksAfter {
			t.Errorf("renewal kept running after release: %d -> %d lock calls", locksAfter, locksLater)
		}
	})
}
