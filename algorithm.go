package krl

import (
	"context"
	"fmt"
	"time"

	"github.com/ryhazerus/krl/store"
)

// Algorithm selects the counting strategy a Limiter runs against its store.
type Algorithm string

const (
	// FixedWindow counts observations in consecutive, non-overlapping
	// windows aligned to multiples of the window duration. Cheapest, but a
	// burst straddling a boundary can pass up to twice the limit.
	FixedWindow Algorithm = "fixed-window"
	// SlidingWindow counts observations in the trailing window ending at
	// the current instant. Exact, at the cost of one stored entry per
	// observation.
	SlidingWindow Algorithm = "sliding-window"
	// TokenBucket admits while tokens remain, refilling them continuously.
	// Allows bursts up to the bucket capacity.
	TokenBucket Algorithm = "token-bucket"
	// LeakyBucket admits while the bucket has room, draining it
	// continuously. Smooths bursts into a steady admission rate.
	LeakyBucket Algorithm = "leaky-bucket"
)

// ParseAlgorithm converts a configuration string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	if !a.valid() {
		return "", fmt.Errorf("krl: unknown algorithm %q: %w", s, ErrInvalidConfig)
	}
	return a, nil
}

func (a Algorithm) String() string {
	return string(a)
}

func (a Algorithm) valid() bool {
	switch a {
	case FixedWindow, SlidingWindow, TokenBucket, LeakyBucket:
		return true
	}
	return false
}

// checkOptions carries the per-call inputs every checker consumes. The
// limiter resolves them once per Check so the checkers stay pure functions
// of store state and clock.
type checkOptions struct {
	window   time.Duration
	limit    int64
	capacity int64
	refill   float64
	leak     float64
	now      time.Time
}

// check runs the algorithm against the store and reports the usage count
// and the instant the pressure eases. The bucket algorithms signal denial
// by reporting capacity+1, so one count > limit comparison serves every
// algorithm.
func (a Algorithm) check(ctx context.Context, s store.Store, key string, o checkOptions) (float64, time.Time, error) {
	switch a {
	case SlidingWindow:
		return checkSlidingWindow(ctx, s, key, o)
	case TokenBucket:
		return checkTokenBucket(ctx, s, key, o)
	case LeakyBucket:
		return checkLeakyBucket(ctx, s, key, o)
	default:
		return checkFixedWindow(ctx, s, key, o)
	}
}

// storeKey resolves the key the algorithm touches in the store for an
// operation at now. Fixed window counters live under a per-window subkey;
// the other algorithms use the caller's key directly.
func (a Algorithm) storeKey(key string, now time.Time, window time.Duration) string {
	if a == FixedWindow {
		return fixedWindowKey(key, now, window)
	}
	return key
}
