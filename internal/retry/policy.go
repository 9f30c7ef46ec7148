// Package retry implements the single retry/backoff policy applied at the exchange boundary.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"cryptoSpotBot/internal/ports"
)

// Policy retries transport-class failures with exponential backoff. Rate-limit failures use
// a longer base delay; business, storage and unknown failures are returned immediately.
type Policy struct {
	MaxAttempts        int           // Total attempts including the first
	BaseDelay          time.Duration // First delay after a transport failure
	RateLimitBaseDelay time.Duration // First delay after a rate-limit failure
	MaxDelay           time.Duration
	Jitter             bool

	Logger ports.Logger
	Alerts ports.AlertSink // Notified once when retries are exhausted; optional

	// OnRetry is called before each sleep; optional.
	OnRetry func(op string, attempt int, err error, delay time.Duration)

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the original bot: 3 attempts, 5s doubling, 30s base on rate limits.
func DefaultPolicy(logger ports.Logger, alerts ports.AlertSink) *Policy {
	return &Policy{
		MaxAttempts:        3,
		BaseDelay:          5 * time.Second,
		RateLimitBaseDelay: 30 * time.Second,
		MaxDelay:           2 * time.Minute,
		Jitter:             true,
		Logger:             logger,
		Alerts:             alerts,
	}
}

// Delay returns the wait before the retry that follows failed attempt n (zero based).
func (p *Policy) Delay(class ports.ErrorClass, n int) time.Duration {
	min := p.BaseDelay
	if class == ports.ClassRateLimit && p.RateLimitBaseDelay > 0 {
		min = p.RateLimitBaseDelay
	}
	max := p.MaxDelay
	if max < min {
		max = min
	}
	b := &backoff.Backoff{Min: min, Max: max, Factor: 2, Jitter: p.Jitter}
	return b.ForAttempt(float64(n))
}

// Do runs fn until it succeeds, fails with a non-retryable error, or runs out of attempts.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for n := 0; n < attempts; n++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, lastErr)
			}
			return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		class := ports.Classify(err)
		if !class.Retryable() {
			return err
		}
		if n == attempts-1 {
			break
		}

		delay := p.Delay(class, n)
		if p.Logger != nil {
			p.Logger.Warn(ctx, op+": retrying after failure", map[string]interface{}{
				"attempt": n + 1, "maxAttempts": attempts, "class": class.String(), "delay": delay.String(), "error": err.Error(),
			})
		}
		if p.OnRetry != nil {
			p.OnRetry(op, n+1, err, delay)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, lastErr)
		}
	}

	exhausted := fmt.Errorf("%s: %w after %d attempts: %w", op, ports.ErrRetriesExhausted, attempts, lastErr)
	if p.Logger != nil {
		p.Logger.Error(ctx, exhausted, op+": giving up")
	}
	if p.Alerts != nil {
		p.Alerts.Notify(ctx, fmt.Sprintf("⚠️ %s failed after %d attempts: %v", op, attempts, lastErr))
	}
	return exhausted
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
