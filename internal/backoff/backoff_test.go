package backoff

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDelayFixed(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"base 5 max 10", 5 * time.Second, 10 * time.Second, 0, 5 * time.Second},
		{"many attempts", 5 * time.Second, 10 * time.Second, 100, 5 * time.Second},
		{"base exceeds max", 20 * time.Second, 10 * time.Second, 0, 10 * time.Second},
		{"zero base uses default", 0, 10 * time.Second, 0, defaultBase},
		{"zero max equals base", 5 * time.Second, 0, 0, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(PolicyFixed, tt.base, tt.max, tt.attempts, rand.New(rand.NewSource(42)))
			if got != tt.want {
				t.Errorf("Delay(fixed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayLinear(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{"zero attempts", 0, time.Second},
		{"one attempt", 1, time.Second},
		{"three attempts", 3, 3 * time.Second},
		{"capped at max", 10, 4 * time.Second},
		{"negative attempts treated as zero", -1, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(PolicyLinear, time.Second, 4*time.Second, tt.attempts, nil)
			if got != tt.want {
				t.Errorf("Delay(linear) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayExponential(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 2 * time.Second},
		{1000, 2 * time.Second},
	}
	for _, tt := range tests {
		got := Delay(PolicyExponential, 100*time.Millisecond, 2*time.Second, tt.attempts, nil)
		if got != tt.want {
			t.Errorf("Delay(exponential, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for attempt := 0; attempt < 8; attempt++ {
		ceiling := Delay(PolicyExponential, 100*time.Millisecond, 5*time.Second, attempt, nil)

		equal := Delay(PolicyEqualJitter, 100*time.Millisecond, 5*time.Second, attempt, rng)
		if equal < ceiling/2 || equal > ceiling {
			t.Errorf("equal jitter attempt %d = %v, want in [%v, %v]", attempt, equal, ceiling/2, ceiling)
		}
		full := Delay("unknown", 100*time.Millisecond, 5*time.Second, attempt, rng)
		if full < 0 || full > ceiling {
			t.Errorf("full jitter attempt %d = %v, want in [0, %v]", attempt, full, ceiling)
		}
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), PolicyFixed, time.Millisecond, time.Millisecond, 5, func(int) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), PolicyFixed, time.Millisecond, time.Millisecond, 3, func(attempt int) error {
		calls++
		return errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Fatalf("err=%v, want down", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := Retry(ctx, PolicyFixed, 10*time.Millisecond, 10*time.Millisecond, 0, func(int) error {
		return errors.New("down")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("retry did not stop with context")
	}
}
