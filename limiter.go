package krl

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ryhazerus/krl/store"
)

// Decision is the outcome of a single Check. It is computed per call and
// never persisted.
type Decision struct {
	// Allowed reports whether the observation fits the quota.
	Allowed bool `json:"allowed"`
	// Limit is the quota the observation was measured against.
	Limit int64 `json:"limit"`
	// Current is the usage the algorithm reported, including this
	// observation. The bucket algorithms report fractional usage.
	Current float64 `json:"current"`
	// Remaining is the unused share of the quota, never negative.
	Remaining int64 `json:"remaining"`
	// ResetTime is when the pressure producing this decision eases: the
	// window rolls over, the oldest observation ages out, or enough of
	// the bucket drains for the next admission.
	ResetTime time.Time `json:"reset_time"`
	// RetryAfter is how long to wait before the next attempt may succeed.
	// Zero when the observation was allowed.
	RetryAfter time.Duration `json:"retry_after"`
	// Err carries the absorbed fault when the limiter failed open. A
	// decision with Err set is always allowed.
	Err error `json:"-"`
}

// Wait blocks until the decision's RetryAfter has elapsed or the context is
// cancelled. Callers that would rather queue than reject can call it after
// a denial and then retry.
func (d Decision) Wait(ctx context.Context) error {
	if d.RetryAfter <= 0 {
		return nil
	}
	t := time.NewTimer(d.RetryAfter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter decides whether observations identified by a key fit a quota. It
// is safe for concurrent use; all mutable state lives in the Store, so
// limiters sharing a store share their counts.
type Limiter struct {
	cfg            Config
	log            *zap.Logger
	onLimitReached func(key string, d Decision)
	now            func() time.Time
}

// New creates a Limiter with the given configuration. Configuration
// problems are reported here, wrapping ErrInvalidConfig; Check never fails
// because of them.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		cfg: cfg.withDefaults(),
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Config returns the limiter's configuration with defaults applied.
// Adapters read it for the fields the limiter itself does not consume:
// Headers, SkipSuccessfulRequests, and SkipFailedRequests.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check decides whether the next observation for key fits the quota and
// records it.
//
// The only errors Check returns are key problems: ErrEmptyKey, or a KeyFunc
// failure. Faults in quota resolution, algorithm execution, and store
// access are absorbed instead: Check logs them and returns an allowing
// Decision with Err populated. A limiter that cannot determine quota state
// never becomes the reason traffic stops.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	key, err := l.resolveKey(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	if l.cfg.Skip != nil && l.cfg.Skip(ctx) {
		return Decision{Allowed: true, Limit: l.cfg.Max, Remaining: l.cfg.Max}, nil
	}

	max, err := l.resolveMax(ctx)
	if err != nil {
		return l.failOpen(key, 0, fmt.Errorf("krl: resolve quota: %w", err)), nil
	}

	now := l.now()
	opts := checkOptions{
		window:   l.cfg.Window,
		limit:    max,
		capacity: l.cfg.Capacity,
		refill:   l.cfg.RefillRate,
		leak:     l.cfg.LeakRate,
		now:      now,
	}
	if opts.capacity <= 0 {
		opts.capacity = max
	}

	count, reset, err := l.cfg.Algorithm.check(ctx, l.cfg.Store, key, opts)
	if err != nil {
		return l.failOpen(key, max, err), nil
	}

	d := Decision{
		Allowed:   count <= float64(max),
		Limit:     max,
		Current:   count,
		Remaining: remaining(max, count),
		ResetTime: reset,
	}
	if !d.Allowed {
		// A denial always reports a positive wait, even when the reset
		// instant has effectively arrived.
		d.RetryAfter = reset.Sub(now)
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Millisecond
		}
		if l.onLimitReached != nil {
			l.onLimitReached(key, d)
		}
	}
	return d, nil
}

// Reset clears all stored state for key, so its next observation counts
// from one.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return l.cfg.Store.Reset(ctx, l.cfg.Algorithm.storeKey(key, l.now(), l.cfg.Window))
}

// ResetAll clears every key the store manages. Stores without bulk-clear
// support report ErrResetAllUnsupported; unlike Check faults, this error is
// returned rather than absorbed, since ResetAll is not on the admission
// path.
func (l *Limiter) ResetAll(ctx context.Context) error {
	br, ok := l.cfg.Store.(store.BulkResetter)
	if !ok {
		return ErrResetAllUnsupported
	}
	return br.ResetAll(ctx)
}

// Decrement removes the most recent observation recorded for key. Adapters
// use it to honor SkipSuccessfulRequests and SkipFailedRequests once the
// underlying operation's outcome is known. The bucket algorithms have
// nothing to undo, so the call is a no-op for them.
func (l *Limiter) Decrement(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	switch l.cfg.Algorithm {
	case TokenBucket, LeakyBucket:
		return nil
	}
	return l.cfg.Store.Decrement(ctx, l.cfg.Algorithm.storeKey(key, l.now(), l.cfg.Window))
}

// Close releases resources held by the limiter's store.
func (l *Limiter) Close() error {
	return l.cfg.Store.Close()
}

// resolveKey applies KeyFunc if configured and rejects empty keys.
func (l *Limiter) resolveKey(ctx context.Context, key string) (string, error) {
	if l.cfg.KeyFunc != nil {
		derived, err := l.cfg.KeyFunc(ctx)
		if err != nil {
			return "", fmt.Errorf("krl: derive key: %w", err)
		}
		key = derived
	}
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}

// resolveMax returns the quota for this call, invoking MaxFunc if the quota
// is dynamic.
func (l *Limiter) resolveMax(ctx context.Context) (int64, error) {
	if l.cfg.MaxFunc == nil {
		return l.cfg.Max, nil
	}
	max, err := l.cfg.MaxFunc(ctx)
	if err != nil {
		return 0, err
	}
	if max <= 0 {
		return 0, fmt.Errorf("quota function returned %d, want positive", max)
	}
	return max, nil
}

// failOpen shapes a fault into an allowing Decision. The fault is logged
// and attached for the caller's observability; it is never returned as an
// error.
func (l *Limiter) failOpen(key string, max int64, err error) Decision {
	l.log.Warn("failing open",
		zap.String("key", key),
		zap.Stringer("algorithm", l.cfg.Algorithm),
		zap.Error(err),
	)
	return Decision{
		Allowed:   true,
		Limit:     max,
		Remaining: max,
		ResetTime: l.now().Add(l.cfg.Window),
		Err:       err,
	}
}

// remaining floors the unused share of the quota at zero.
func remaining(limit int64, current float64) int64 {
	left := math.Floor(float64(limit) - current)
	if left < 0 {
		return 0
	}
	return int64(left)
}
