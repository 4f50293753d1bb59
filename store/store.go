package store

import (
	"context"
	"time"
)

// BucketState is the record persisted for the token bucket and leaky bucket
// algorithms: a fractional fill level and the instant it last changed. For a
// token bucket the level is the number of tokens left; for a leaky bucket it
// is the amount of water held.
type BucketState struct {
	Level   float64   `json:"level"`
	Updated time.Time `json:"updated"`
}

// IncrementOptions carries the parameters of a single Increment call.
type IncrementOptions struct {
	// Window is the quota period. Counter increments use it as the TTL
	// armed on the key's first write; sliding increments use it both as
	// the retention horizon and as the TTL refreshed on every call.
	Window time.Duration

	// At, when non-zero, switches Increment into sliding mode: the
	// timestamp joins the key's series, entries older than At-Window are
	// dropped, and the series length is returned instead of a counter.
	At time.Time
}

// Sliding reports whether the options select sliding mode.
func (o IncrementOptions) Sliding() bool {
	return !o.At.IsZero()
}

// Store defines the interface for rate limit state backends.
// Implementations must be safe for concurrent use.
//
// Failure semantics are asymmetric: Get swallows read failures and reports
// a missing record, while write failures propagate so the limiter can apply
// its fail-open policy.
type Store interface {
	// Get returns the bucket state stored for key, or nil when the key is
	// absent, expired, or unreadable.
	Get(ctx context.Context, key string) *BucketState

	// Set stores bucket state for key. A ttl greater than zero makes the
	// key expire once it elapses; writing an existing key replaces any
	// pending expiry.
	Set(ctx context.Context, key string, state BucketState, ttl time.Duration) error

	// Increment records one observation for key and returns the resulting
	// count. In counter mode (opt.At is zero) it increments an integer
	// counter, arming the key's TTL exactly once on first write so the
	// window ends when it began plus opt.Window, no matter how many
	// increments follow. In sliding mode it prunes entries older than
	// opt.At-opt.Window, appends opt.At, refreshes the TTL, and returns
	// the series length together with the oldest retained timestamp. The
	// returned time is zero in counter mode.
	Increment(ctx context.Context, key string, opt IncrementOptions) (count int64, oldest time.Time, err error)

	// Decrement undoes one increment. Counters never drop below zero,
	// sliding series lose their most recent entry, and bucket records are
	// left untouched. Missing keys are a no-op.
	Decrement(ctx context.Context, key string) error

	// Reset removes all state for key, including any companion structures
	// and pending expiry.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// BulkResetter is implemented by stores that can clear every key they
// manage. Implementations may restrict the sweep to their own namespace.
type BulkResetter interface {
	ResetAll(ctx context.Context) error
}
