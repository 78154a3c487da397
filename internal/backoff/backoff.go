package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

type Policy string

const (
	PolicyFixed       Policy = "fixed"
	PolicyLinear      Policy = "linear"
	PolicyExponential Policy = "exponential"
	PolicyEqualJitter Policy = "exp_equal_jitter"
	PolicyFullJitter  Policy = "exp_full_jitter"
)

const (
	defaultBase = 500 * time.Millisecond
	maxExponent = 30
)

// Delay returns the wait before attempt (0-based) under policy, capped at max.
// Unknown policies behave like exp_full_jitter.
func Delay(policy Policy, base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = defaultBase
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case PolicyFixed:
		return minDuration(base, max)
	case PolicyLinear:
		return minDuration(base*time.Duration(maxInt(1, attempt)), max)
	case PolicyExponential:
		return exponential(base, max, attempt)
	case PolicyEqualJitter:
		d := exponential(base, max, attempt)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		d := exponential(base, max, attempt)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

func exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt > maxExponent {
		return max
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if d >= float64(max) {
		return max
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, ctx ends or attempts run out. The last
// error from fn is returned. attempts <= 0 retries until ctx ends.
func Retry(ctx context.Context, policy Policy, base, max time.Duration, attempts int, fn func(attempt int) error) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var err error
	for attempt := 0; attempts <= 0 || attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempts > 0 && attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(Delay(policy, base, max, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
