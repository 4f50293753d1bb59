package krl

import (
	"context"
	"fmt"
	"time"

	"github.com/ryhazerus/krl/store"
)

// checkFixedWindow counts the observation in the discrete window containing
// o.now. Every window gets its own store counter under "<key>:<index>", so
// no state crosses a boundary and lapsed windows simply expire. A burst
// straddling a boundary can land up to twice the limit across the two
// windows; that is the fixed window trade-off, not something this
// implementation corrects.
func checkFixedWindow(ctx context.Context, s store.Store, key string, o checkOptions) (float64, time.Time, error) {
	count, _, err := s.Increment(ctx, fixedWindowKey(key, o.now, o.window), store.IncrementOptions{
		Window: o.window,
	})
	if err != nil {
		return 0, time.Time{}, err
	}

	idx := windowIndex(o.now, o.window)
	reset := time.UnixMilli((idx + 1) * o.window.Milliseconds())
	return float64(count), reset, nil
}

// windowIndex numbers the discrete windows since the Unix epoch.
func windowIndex(now time.Time, window time.Duration) int64 {
	return now.UnixMilli() / window.Milliseconds()
}

func fixedWindowKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, windowIndex(now, window))
}
