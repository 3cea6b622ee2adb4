package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// #region helpers
func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

type countingObserver struct {
	attempts []int
	failures int
}

func (o *countingObserver) ObserveAttempt(_ string, attempt int, err error) {
	o.attempts = append(o.attempts, attempt)
	if err != nil {
		o.failures++
	}
}

type flakyEmbedder struct {
	failures int
	calls    int
	err      error
}

func (f *flakyEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

// #endregion helpers

// #region do-tests
func TestDo_TransientThenSuccess(t *testing.T) {
	obs := &countingObserver{}
	g := NewGuard(fastPolicy(3), nil, obs)

	calls := 0
	attempts, err := g.Do(context.Background(), "reason", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return provider.Transientf("status 503")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
	if obs.failures != 2 || len(obs.attempts) != 3 {
		t.Errorf("observer: got %d failures over %d attempts", obs.failures, len(obs.attempts))
	}
}

func TestDo_BudgetExhausted(t *testing.T) {
	g := NewGuard(fastPolicy(3), nil, nil)

	calls := 0
	attempts, err := g.Do(context.Background(), "reason", func(ctx context.Context) error {
		calls++
		return provider.Transientf("status 429")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("got attempts=%d calls=%d, want 3/3", attempts, calls)
	}
	if !errors.Is(err, provider.ErrTransient) {
		t.Errorf("expected transient cause preserved, got %v", err)
	}
}

func TestDo_PermanentNotRetried(t *testing.T) {
	g := NewGuard(fastPolicy(3), nil, nil)

	calls := 0
	_, err := g.Do(context.Background(), "reason", func(ctx context.Context) error {
		calls++
		return errors.New("status 401")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried: %d calls", calls)
	}
}

func TestDo_PerAttemptTimeoutRetried(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 5 * time.Millisecond
	g := NewGuard(p, nil, nil)

	calls := 0
	_, err := g.Do(context.Background(), "embed", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls: got %d, want 2", calls)
	}
}

func TestDo_ParentCancelStops(t *testing.T) {
	g := NewGuard(fastPolicy(5), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := g.Do(ctx, "reason", func(ctx context.Context) error {
		calls++
		cancel()
		return provider.Transientf("unavailable")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls after cancel: got %d, want 1", calls)
	}
}

func TestDo_RateLimited(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	g := NewGuard(fastPolicy(1), limiter, nil)

	if _, err := g.Do(context.Background(), "reason", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Do(ctx, "reason", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected rate limit wait to fail within deadline")
	}
}

// #endregion do-tests

// #region retryable-tests
func TestRetryable(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"nil", live, nil, false},
		{"transient", live, provider.Transientf("429"), true},
		{"deadline", live, context.DeadlineExceeded, true},
		{"permanent", live, errors.New("bad request"), false},
		{"parent-done", done, provider.Transientf("429"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.ctx, tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// #endregion retryable-tests

// #region embedder-tests
func TestEmbedder_RetriesThenSucceeds(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, err: provider.Transientf("503")}
	e := NewEmbedder(inner, NewGuard(fastPolicy(3), nil, nil))

	vec, err := e.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || inner.calls != 3 {
		t.Errorf("got vec=%v calls=%d", vec, inner.calls)
	}
}

func TestEmbedder_ExhaustedIsEmbeddingFailure(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: provider.Transientf("503")}
	e := NewEmbedder(inner, NewGuard(fastPolicy(3), nil, nil))

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, failure.ErrEmbedding) {
		t.Fatalf("expected embedding failure, got %v", err)
	}
}

// #endregion embedder-tests
