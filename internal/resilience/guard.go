package resilience

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// #region policy

// Policy bounds one guarded external call.
type Policy struct {
	Attempts  int           // total attempts including the first
	BaseDelay time.Duration // first backoff delay, doubled each retry
	MaxDelay  time.Duration // backoff cap, 0 = uncapped
	Timeout   time.Duration // per-attempt timeout, 0 = none
}

// DefaultPolicy returns 3 attempts, 1s base delay, 8s cap and a 20s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: time.Second,
		MaxDelay:  8 * time.Second,
		Timeout:   20 * time.Second,
	}
}

// #endregion policy

// #region observer

// Observer is notified after every attempt.
type Observer interface {
	ObserveAttempt(op string, attempt int, err error)
}

// #endregion observer

// #region guard

// Guard runs external calls under rate limiting, per-attempt timeouts and
// exponential backoff. Only transient failures are retried.
type Guard struct {
	policy   Policy
	limiter  *rate.Limiter
	observer Observer
}

// NewGuard creates a guard. limiter and observer may be nil.
func NewGuard(policy Policy, limiter *rate.Limiter, observer Observer) *Guard {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Millisecond
	}
	return &Guard{policy: policy, limiter: limiter, observer: observer}
}

// Do calls fn until it succeeds, fails permanently, the attempt budget is
// spent, or ctx is done. Returns the number of attempts made.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	attempts := 0

	err := retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		attempts++

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if g.policy.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		}
		err := fn(callCtx)
		cancel()

		if g.observer != nil {
			g.observer.ObserveAttempt(op, attempts, err)
		}
		if err == nil {
			return nil
		}
		if Retryable(ctx, err) && attempts < g.policy.Attempts {
			log.Printf("[RETRY] %s attempt %d/%d failed: %v", op, attempts, g.policy.Attempts, err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return attempts, fmt.Errorf("%s after %d attempt(s): %w", op, attempts, err)
	}
	return attempts, nil
}

func (g *Guard) backoff() retry.Backoff {
	b := retry.NewExponential(g.policy.BaseDelay)
	if g.policy.MaxDelay > 0 {
		b = retry.WithCappedDuration(g.policy.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(g.policy.Attempts-1), b)
}

// #endregion guard

// #region classify

// Retryable reports whether err is transient. A done parent context is never retried;
// a per-attempt deadline while the parent is still live is.
func Retryable(parent context.Context, err error) bool {
	if err == nil || parent.Err() != nil {
		return false
	}
	if errors.Is(err, provider.ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// #endregion classify
