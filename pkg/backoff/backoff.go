// Package backoff computes exponential retry delays and waits them out.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	// Jitter bounds a uniformly random delay added on top of the exponential
	// delay, spreading out callers that failed together. Zero disables it.
	Jitter time.Duration
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc. Jitter is not applied.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Delay is Exponential plus up to cfg.Jitter of random extra delay.
func Delay(attempt int, cfg *Config) time.Duration {
	d := Exponential(attempt, cfg)
	if cfg != nil && cfg.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(cfg.Jitter)))
	}
	return d
}

// Wait sleeps for Delay(attempt, cfg) or until ctx is done, returning ctx.Err() in that case.
func Wait(ctx context.Context, attempt int, cfg *Config) error {
	timer := time.NewTimer(Delay(attempt, cfg))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
