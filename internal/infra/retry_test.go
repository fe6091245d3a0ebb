package infra_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"marsctl/internal/infra"
)

func fastRetry(attempts int) infra.RetryConfig {
	return infra.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := infra.WithRetry(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestWithRetry_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastRetry(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := infra.WithRetry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("error: got %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := infra.WithRetry(ctx, fastRetry(3), func() error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error: got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	tests := map[int]bool{
		200: false,
		404: false,
		429: true,
		500: true,
		503: true,
	}
	for status, want := range tests {
		if got := infra.IsRetryableHTTPStatus(status); got != want {
			t.Errorf("status %d: got %v, want %v", status, got, want)
		}
	}
}
