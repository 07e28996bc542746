package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("zero rate should not limit, call %d: %v", i, err)
		}
	}
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	if err == nil {
		t.Fatal("second token should not be available")
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrRateLimited) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLimiterPause(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	l.Pause(80 * time.Millisecond)
	l.Pause(10 * time.Millisecond) // shorter pause keeps the later end

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited < 60*time.Millisecond {
		t.Errorf("Wait returned after %v, expected to honour the pause", waited)
	}
}

func TestLimiterPauseCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	l.Pause(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	base := errors.New("429 too many requests")

	d, ok := RetryAfter(fmt.Errorf("embed: %w", Throttled(base, 3*time.Second)), time.Second)
	if !ok || d != 3*time.Second {
		t.Errorf("hinted: %v %v", d, ok)
	}
	d, ok = RetryAfter(Throttled(base, 0), time.Second)
	if !ok || d != time.Second {
		t.Errorf("fallback: %v %v", d, ok)
	}
	if _, ok := RetryAfter(base, time.Second); ok {
		t.Error("plain errors are not throttling")
	}
	if Throttled(nil, time.Second) != nil {
		t.Error("Throttled(nil) should be nil")
	}
	if !errors.Is(Throttled(base, 0), base) {
		t.Error("Throttled should unwrap to its cause")
	}
	if !Retryable(Throttled(base, 0)) {
		t.Error("throttling is transient")
	}
}
