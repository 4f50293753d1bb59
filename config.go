package krl

import (
	"context"
	"fmt"
	"time"

	"github.com/ryhazerus/krl/store"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	// DefaultRefillRate is the number of tokens a token bucket regains
	// per window.
	DefaultRefillRate = 1.0
	// DefaultLeakRate is the number of units a leaky bucket drains per
	// window.
	DefaultLeakRate = 1.0
)

// Config describes a Limiter. Window and a quota (Max or MaxFunc) are
// required; every other field has a usable default.
type Config struct {
	// Window is the period the quota applies to. Windows are measured in
	// whole milliseconds, so it must be at least one millisecond.
	Window time.Duration

	// Max is the static quota per window. Exactly one of Max and MaxFunc
	// must be set.
	Max int64

	// MaxFunc resolves the quota from the request context, once per
	// Check. It must return a positive value.
	MaxFunc func(ctx context.Context) (int64, error)

	// Algorithm selects the counting strategy. Empty means FixedWindow.
	Algorithm Algorithm

	// Store persists per-key state. Nil means a fresh store.MemoryStore,
	// which is process-local: counts are neither shared between processes
	// nor preserved across restarts.
	Store store.Store

	// Capacity is the bucket size for TokenBucket and LeakyBucket. Zero
	// means the resolved quota. A non-zero Capacity must equal Max and
	// cannot accompany MaxFunc; the reported limit and the bucket size
	// are always the same number. Ignored by the window algorithms.
	Capacity int64

	// RefillRate is the number of tokens a TokenBucket regains per
	// Window. Zero means DefaultRefillRate.
	RefillRate float64

	// LeakRate is the number of units a LeakyBucket drains per Window.
	// Zero means DefaultLeakRate.
	LeakRate float64

	// KeyFunc derives the rate limit key from the request context,
	// overriding the key passed to Check. When nil, the passed key is
	// used as-is.
	KeyFunc func(ctx context.Context) (string, error)

	// Skip reports whether a call should bypass limiting entirely.
	Skip func(ctx context.Context) bool

	// Headers tells adapters built on the limiter whether to surface
	// quota metadata to clients, such as X-RateLimit-* response headers.
	// The limiter itself does not consume it; see Config on Limiter.
	Headers bool

	// SkipSuccessfulRequests and SkipFailedRequests tell adapters to call
	// Decrement once the underlying operation's outcome is known, so that
	// outcome class stops counting against the quota. The limiter itself
	// does not consume them.
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool
}

// validate reports the first configuration problem found, wrapping
// ErrInvalidConfig.
func (c Config) validate() error {
	if c.Window < time.Millisecond {
		return fmt.Errorf("krl: window must be at least one millisecond, got %v: %w", c.Window, ErrInvalidConfig)
	}
	switch {
	case c.Max < 0:
		return fmt.Errorf("krl: max must be positive, got %d: %w", c.Max, ErrInvalidConfig)
	case c.Max == 0 && c.MaxFunc == nil:
		return fmt.Errorf("krl: either max or max func is required: %w", ErrInvalidConfig)
	case c.Max > 0 && c.MaxFunc != nil:
		return fmt.Errorf("krl: max and max func are mutually exclusive: %w", ErrInvalidConfig)
	}
	if c.Algorithm != "" && !c.Algorithm.valid() {
		return fmt.Errorf("krl: unknown algorithm %q: %w", c.Algorithm, ErrInvalidConfig)
	}
	switch {
	case c.Capacity < 0:
		return fmt.Errorf("krl: capacity must not be negative, got %d: %w", c.Capacity, ErrInvalidConfig)
	case c.Capacity > 0 && c.MaxFunc != nil:
		return fmt.Errorf("krl: capacity cannot accompany a dynamic quota: %w", ErrInvalidConfig)
	case c.Capacity > 0 && c.Capacity != c.Max:
		return fmt.Errorf("krl: capacity %d must equal max %d: %w", c.Capacity, c.Max, ErrInvalidConfig)
	}
	if c.RefillRate < 0 {
		return fmt.Errorf("krl: refill rate must not be negative, got %v: %w", c.RefillRate, ErrInvalidConfig)
	}
	if c.LeakRate < 0 {
		return fmt.Errorf("krl: leak rate must not be negative, got %v: %w", c.LeakRate, ErrInvalidConfig)
	}
	return nil
}

// withDefaults returns a copy of the config with zero fields replaced by
// their defaults.
func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = FixedWindow
	}
	if c.Store == nil {
		c.Store = store.NewMemoryStore()
	}
	if c.RefillRate == 0 {
		c.RefillRate = DefaultRefillRate
	}
	if c.LeakRate == 0 {
		c.LeakRate = DefaultLeakRate
	}
	return c
}
