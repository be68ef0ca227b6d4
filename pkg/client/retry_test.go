package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/leaky-pager/pkg/clock"
)

func autoClock() *clock.Manual {
	c := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c.SetAutoAdvance(true)
	return c
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", config.MaxAttempts)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), autoClock(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("retryWithBackoff() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_ExponentialBackoffCapped(t *testing.T) {
	clk := autoClock()
	config := RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 2,
	}

	err := retryWithBackoff(context.Background(), clk, config, func() error {
		return NewStatusError(503, "unavailable")
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("retryWithBackoff() error = %v, want ErrRetryExhausted", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Error("exhausted error should wrap the last StatusError")
	}

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	got := clk.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("backoffs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRetryWithBackoff_ClientErrorNoRetry(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), autoClock(), DefaultRetryConfig(), func() error {
		calls++
		return NewStatusError(400, "bad request")
	})
	if err == nil || errors.Is(err, ErrRetryExhausted) {
		t.Errorf("retryWithBackoff() error = %v, want the client error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_PlainErrorTreatedAsNetwork(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), autoClock(), RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}, func() error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	if err != nil {
		t.Errorf("retryWithBackoff() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	clk := clock.NewManual(time.Now()) // no auto-advance: the backoff never elapses
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- retryWithBackoff(ctx, clk, DefaultRetryConfig(), func() error {
			return NewStatusError(500, "boom")
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for clk.PendingTimers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("retry never started waiting")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, ErrContextCancelled) {
		t.Errorf("retryWithBackoff() error = %v, want ErrContextCancelled", err)
	}
	if clk.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0 after cancel", clk.PendingTimers())
	}
}

func TestRetryWithBackoff_Jitter(t *testing.T) {
	clk := autoClock()
	config := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 2, Jitter: true}

	_ = retryWithBackoff(context.Background(), clk, config, func() error {
		return NewStatusError(500, "boom")
	})

	sleeps := clk.Sleeps()
	if len(sleeps) != 1 {
		t.Fatalf("len(sleeps) = %d, want 1", len(sleeps))
	}
	if sleeps[0] < 800*time.Millisecond || sleeps[0] > 1200*time.Millisecond {
		t.Errorf("jittered backoff = %v, want within 0.8s..1.2s", sleeps[0])
	}
}
