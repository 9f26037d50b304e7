package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

func TestContactLocksRejectBusy(t *testing.T) {
	t.Parallel()

	locks := newContactLocks()
	release, err := locks.Acquire(context.Background(), "c-1", true)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := locks.Acquire(context.Background(), "c-1", true); !errors.Is(err, contractx.ErrContactBusy) {
		t.Fatalf("expected ErrContactBusy, got %v", err)
	}

	release()
	release2, err := locks.Acquire(context.Background(), "c-1", true)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	release2()
}

func TestContactLocksDifferentContactsDoNotBlock(t *testing.T) {
	t.Parallel()

	locks := newContactLocks()
	r1, err := locks.Acquire(context.Background(), "c-1", true)
	if err != nil {
		t.Fatalf("Acquire(c-1) error = %v", err)
	}
	defer r1()

	r2, err := locks.Acquire(context.Background(), "c-2", true)
	if err != nil {
		t.Fatalf("Acquire(c-2) error = %v", err)
	}
	r2()
}

func TestContactLocksQueueSerializes(t *testing.T) {
	t.Parallel()

	locks := newContactLocks()
	var (
		mu      sync.Mutex
		running int
		max     int
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "c-1", false)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			running++
			if running > max {
				max = running
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", max)
	}
}

func TestContactLocksAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	locks := newContactLocks()
	release, err := locks.Acquire(context.Background(), "c-1", false)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, "c-1", false); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestContactLocksReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	locks := newContactLocks()
	release, err := locks.Acquire(context.Background(), "c-1", true)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()
	release()

	r2, err := locks.Acquire(context.Background(), "c-1", true)
	if err != nil {
		t.Fatalf("Acquire() after double release error = %v", err)
	}
	r2()
}
