package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	config := Config{
		MaxRetries:    4,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Millisecond,
	}

	calls := 0
	err := Do(context.Background(), config, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_Exhaustion(t *testing.T) {
	config := Config{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Millisecond,
	}

	last := errors.New("call 3 failed")
	calls := 0
	err := Do(context.Background(), config, func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("earlier failure")
	})

	if calls != 3 {
		t.Errorf("expected MaxRetries+1 = 3 calls, got %d", calls)
	}
	if !errors.Is(err, last) {
		t.Errorf("expected last error to surface, got %v", err)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	config := Config{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			attempts = append(attempts, attempt)
		},
	}

	_ = Do(context.Background(), config, func(ctx context.Context) error {
		return errors.New("boom")
	})

	if len(attempts) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %d", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected attempt numbers: %v", attempts)
	}
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no calls after cancellation, got %d", calls)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := Config{
		MaxRetries:    5,
		InitialDelay:  time.Hour, // would stall without cancellation
		BackoffFactor: 2.0,
		MaxDelay:      time.Hour,
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, config, func(ctx context.Context) error {
			return errors.New("fail")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not abort promptly on cancellation")
	}
}

func TestDo_PermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("bad request"))
	})

	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, err := DoWithValue(context.Background(), Config{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Millisecond,
	}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if value != "ok" {
		t.Errorf("expected value ok, got %q", value)
	}
}
