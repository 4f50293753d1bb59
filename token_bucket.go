package krl

import (
	"context"
	"time"

	"github.com/ryhazerus/krl/store"
)

// checkTokenBucket refills the key's bucket for the time elapsed since its
// last update, then consumes one token if at least one whole token is
// available. The reported count is capacity minus the tokens left, so a
// full bucket's first hit counts 1. Denials report the capacity+1 sentinel
// and leave the stored state untouched, keeping partial refill progress.
//
// Refill is computed lazily from the stored timestamp, so the record's TTL
// only needs to outlive the bucket's climb back to full: after that a
// missing record and a full bucket are the same thing.
func checkTokenBucket(ctx context.Context, s store.Store, key string, o checkOptions) (float64, time.Time, error) {
	capacity := float64(o.capacity)
	tokens := capacity
	last := o.now

	if state := s.Get(ctx, key); state != nil {
		tokens = state.Level
		last = state.Updated
	}

	if elapsed := o.now.Sub(last); elapsed > 0 {
		tokens += float64(elapsed) / float64(o.window) * o.refill
		if tokens > capacity {
			tokens = capacity
		}
	}

	if tokens < 1 {
		wait := time.Duration((1 - tokens) / o.refill * float64(o.window))
		return capacity + 1, o.now.Add(wait), nil
	}

	tokens--
	ttl := time.Duration((capacity - tokens) / o.refill * float64(o.window))
	if err := s.Set(ctx, key, store.BucketState{Level: tokens, Updated: o.now}, ttl); err != nil {
		return 0, time.Time{}, err
	}

	next := time.Duration(float64(o.window) / o.refill)
	return capacity - tokens, o.now.Add(next), nil
}
