package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/config"
)

func testParams() config.BreakerParams {
	return config.BreakerParams{
		FailureThreshold:       3,
		SuccessThreshold:       2,
		OpenDuration:           20 * time.Millisecond,
		HalfOpenMaxConcurrency: 1,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New[int]("test", testParams())
	ctx := context.Background()

	failing := func(ctx context.Context) (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, failing)
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 consecutive failures", b.State())
	}

	_, err := b.Execute(ctx, func(ctx context.Context) (int, error) { return 1, nil })
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Errorf("expected unavailable error while open, got %v", err)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	params := testParams()
	b := New[int]("recover", params)
	ctx := context.Background()

	failing := func(ctx context.Context) (int, error) { return 0, errors.New("boom") }
	succeeding := func(ctx context.Context) (int, error) { return 42, nil }

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(params.OpenDuration + 10*time.Millisecond)

	for i := 0; i < int(params.SuccessThreshold); i++ {
		v, err := b.Execute(ctx, succeeding)
		if err != nil {
			t.Fatalf("unexpected error during half-open probes: %v", err)
		}
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	}

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probes", b.State())
	}
}
