package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// RetryPolicy bounds retries around one external call. Only transient
// failures are retried; validation and unknown-action failures surface on
// the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Exponential bool
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	return p
}

// Do invokes fn up to MaxAttempts times. Attempt counting includes the first
// call, so a step that always fails transiently runs exactly MaxAttempts
// times before the exhaustion error is returned.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	delay := p.Backoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !contractx.IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		log.Warn().
			Str("component", "retry").
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("transient failure, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
		if p.Exponential {
			delay *= 2
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, p.MaxAttempts, lastErr)
}
