package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}}

	var attempts []int
	err := Retry(context.Background(), p, func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			return nil
		}
		return fmt.Errorf("attempt %d failed", attempt)
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(attempts) != 2 || attempts[0] != 0 || attempts[1] != 1 {
		t.Errorf("attempts = %v, want [0 1]", attempts)
	}
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	p := Policy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}}

	calls := 0
	err := Retry(context.Background(), p, func(attempt int) error {
		calls++
		return fmt.Errorf("fail %d", attempt)
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if err == nil || err.Error() != "fail 2" {
		t.Errorf("err = %v, want the last attempt's error", err)
	}
}

func TestRetryCancelledBetweenAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delays: []time.Duration{time.Hour}}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- Retry(ctx, p, func(int) error {
			calls++
			return fmt.Errorf("nope")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not abort on cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, cancellation must stop further attempts", calls)
	}
}

func TestDelayClampsToLastEntry(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delays: []time.Duration{2 * time.Second, 5 * time.Second}}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 5 * time.Second},
		{2, 5 * time.Second},
		{9, 5 * time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}

	empty := Policy{MaxAttempts: 3}
	if empty.Delay(0) != 0 {
		t.Error("empty schedule must yield zero delay")
	}
}
