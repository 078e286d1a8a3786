package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", calls)
	}
}

func TestDo_PermanentIsNotRetried(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return Permanent(base)
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if !errors.Is(err, base) || IsPermanent(err) {
		t.Fatalf("expected unwrapped base error, got %v", err)
	}
}

func TestDo_TimeoutPerAttempt(t *testing.T) {
	p := fastPolicy(0)
	p.Timeout = 5 * time.Millisecond
	err := Do(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	if d := p.delay(0); d != 100*time.Millisecond {
		t.Fatalf("attempt 0: got %v", d)
	}
	if d := p.delay(5); d != 300*time.Millisecond {
		t.Fatalf("attempt 5: expected cap, got %v", d)
	}
}
