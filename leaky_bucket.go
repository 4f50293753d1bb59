package krl

import (
	"context"
	"time"

	"github.com/ryhazerus/krl/store"
)

// checkLeakyBucket drains the key's bucket for the time elapsed since its
// last update, then admits one unit of water if the level is below
// capacity. The reported count is the level after admission. Denials report
// the capacity+1 sentinel, leave the stored state untouched, and compute
// the wait until enough has drained for one more unit to fit.
//
// Like the token bucket, drain is recomputed lazily from the stored
// timestamp; the TTL only needs to outlive the bucket's drain to empty.
func checkLeakyBucket(ctx context.Context, s store.Store, key string, o checkOptions) (float64, time.Time, error) {
	capacity := float64(o.capacity)
	level := 0.0
	last := o.now

	if state := s.Get(ctx, key); state != nil {
		level = state.Level
		last = state.Updated
	}

	if elapsed := o.now.Sub(last); elapsed > 0 {
		level -= float64(elapsed) / float64(o.window) * o.leak
		if level < 0 {
			level = 0
		}
	}

	if level >= capacity {
		wait := time.Duration((level - capacity + 1) / o.leak * float64(o.window))
		return capacity + 1, o.now.Add(wait), nil
	}

	level++
	ttl := time.Duration(level / o.leak * float64(o.window))
	if err := s.Set(ctx, key, store.BucketState{Level: level, Updated: o.now}, ttl); err != nil {
		return 0, time.Time{}, err
	}

	drain := time.Duration(float64(o.window) / o.leak)
	return level, o.now.Add(drain), nil
}
