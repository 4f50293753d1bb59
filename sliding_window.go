package krl

import (
	"context"
	"time"

	"github.com/ryhazerus/krl/store"
)

// checkSlidingWindow counts observations in the trailing window ending at
// o.now. The count includes the observation under evaluation, and denied
// observations stay in the series: every hit is part of the record, so a
// client hammering a saturated key keeps pushing its reset out. Pressure
// eases when the oldest retained observation ages out of the window.
func checkSlidingWindow(ctx context.Context, s store.Store, key string, o checkOptions) (float64, time.Time, error) {
	count, oldest, err := s.Increment(ctx, key, store.IncrementOptions{
		Window: o.window,
		At:     o.now,
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldest.IsZero() {
		oldest = o.now
	}
	return float64(count), oldest.Add(o.window), nil
}
