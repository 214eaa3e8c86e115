package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultPolicy(), nil, func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, nil, func() error {
		calls++
		if calls < 3 {
			return E("pull", "", KindSync, errors.New("timeout"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, nil, func() error {
		calls++
		return E("pull", "", KindSync, errors.New("timeout"))
	})

	if err == nil {
		t.Fatal("Retry() should surface the last error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, nil, func() error {
		calls++
		return E("push", "", KindAuth, errors.New("401"))
	})

	if !IsKind(err, KindAuth) {
		t.Fatalf("err = %v, want KindAuth", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (auth errors never retry)", calls)
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Retry(ctx, policy, nil, func() error {
		return E("pull", "", KindSync, errors.New("timeout"))
	})

	if err == nil {
		t.Fatal("Retry() should return the last error on cancellation")
	}
	if time.Since(start) > time.Second {
		t.Error("Retry() did not honor context cancellation")
	}
}

func TestRetry_CustomClassifier(t *testing.T) {
	sentinel := errors.New("rejected")
	policy := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func(err error) bool {
		return errors.Is(err, sentinel)
	}, func() error {
		calls++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCalculateDelay_ExponentialGrowth(t *testing.T) {
	policy := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped
		{10, time.Second},
	}

	for _, tc := range cases {
		if got := CalculateDelay(tc.attempt, policy); got != tc.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestAddJitter_StaysWithinRange(t *testing.T) {
	delay := 100 * time.Millisecond

	for i := 0; i < 100; i++ {
		jittered := AddJitter(delay, 0.1)
		if jittered < 90*time.Millisecond || jittered > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%% of %v", jittered, delay)
		}
	}
}

func TestAddJitter_ZeroPercentIsIdentity(t *testing.T) {
	delay := 50 * time.Millisecond
	if AddJitter(delay, 0) != delay {
		t.Error("zero jitter should return the delay unchanged")
	}
}
