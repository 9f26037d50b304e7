package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: hiccup", contractx.ErrTransient)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicyExhaustsTransient(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: still down", contractx.ErrTransient)
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want exactly 3", calls)
	}
	if !errors.Is(err, contractx.ErrTransient) {
		t.Fatalf("exhaustion must keep the transient class, got %v", err)
	}
}

func TestRetryPolicyDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: bad input", contractx.ErrValidation)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRetryPolicyHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 10, Backoff: time.Minute}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: down", contractx.ErrTransient)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{}.normalized()
	if p.MaxAttempts != defaultMaxAttempts || p.Backoff != defaultBackoff {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}
