package krl

import (
	"context"
	"testing"
	"time"
)

func TestLeakyBucketFill(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}

	l := newTestLimiter(t, Config{Window: time.Second, Max: 3, Algorithm: LeakyBucket})
	l.now = clock.Now
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		d, err := l.Check(ctx, "caller")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed || d.Current != float64(i) {
			t.Errorf("check %d: allowed=%v current=%v, want true %d", i, d.Allowed, d.Current, i)
		}
	}

	// A full bucket reports the capacity+1 sentinel and the wait until one
	// unit has drained.
	d, err := l.Check(ctx, "caller")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("check 4: allowed, want denied")
	}
	if d.Current != 4 {
		t.Errorf("check 4: current = %v, want exactly 4", d.Current)
	}
	if d.RetryAfter != time.Second {
		t.Errorf("check 4: retry after = %v, want 1s", d.RetryAfter)
	}
}

func TestLeakyBucketDrain(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}

	l := newTestLimiter(t, Config{Window: time.Second, Max: 3, Algorithm: LeakyBucket})
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Check(ctx, "caller")
	}
	if d, _ := l.Check(ctx, "caller"); d.Allowed {
		t.Fatal("full bucket admitted")
	}

	// One window drains one unit, making room for exactly one admission.
	clock.Advance(time.Second)
	d, _ := l.Check(ctx, "caller")
	if !d.Allowed || d.Current != 3 {
		t.Errorf("after drain: allowed=%v current=%v, want true 3", d.Allowed, d.Current)
	}
	if d, _ := l.Check(ctx, "caller"); d.Allowed {
		t.Error("second check after drain allowed, want denied")
	}
}

func TestLeakyBucketDrainFloor(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}

	l := newTestLimiter(t, Config{Window: time.Second, Max: 3, Algorithm: LeakyBucket})
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Check(ctx, "caller")
	}

	// A long idle stretch drains to empty, never below.
	clock.Advance(100 * time.Second)
	d, _ := l.Check(ctx, "caller")
	if !d.Allowed || d.Current != 1 {
		t.Errorf("after long drain: allowed=%v current=%v, want true 1", d.Allowed, d.Current)
	}
}

func TestLeakyBucketResetTime(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	clock := &fakeClock{now: base}

	l := newTestLimiter(t, Config{Window: time.Second, Max: 3, Algorithm: LeakyBucket})
	l.now = clock.Now

	// On admission the reset instant is one drained unit away.
	d, _ := l.Check(context.Background(), "caller")
	if want := base.Add(time.Second); !d.ResetTime.Equal(want) {
		t.Errorf("reset time = %v, want %v", d.ResetTime, want)
	}
}
