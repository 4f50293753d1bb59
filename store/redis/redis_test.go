package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ryhazerus/krl/store"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreIncrement(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	opt := store.IncrementOptions{Window: time.Minute}

	for i := int64(1); i <= 5; i++ {
		got, _, err := s.Increment(ctx, "test", opt)
		if err != nil {
			t.Fatal(err)
		}
		if got != i {
			t.Errorf("increment %d: got %d, want %d", i, got, i)
		}
	}
}

func TestRedisStoreCounterExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	opt := store.IncrementOptions{Window: time.Minute}

	s.Increment(ctx, "key", opt)
	s.Increment(ctx, "key", opt)

	mr.FastForward(time.Minute + time.Second)

	got, _, err := s.Increment(ctx, "key", opt)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("after expiry: got %d, want 1", got)
	}
}

func TestRedisStoreCounterExpiryNotExtended(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	opt := store.IncrementOptions{Window: time.Minute}

	// Only the first write arms the TTL; the mid-window increment must not
	// push the deadline out.
	s.Increment(ctx, "key", opt)
	mr.FastForward(40 * time.Second)
	s.Increment(ctx, "key", opt)
	mr.FastForward(40 * time.Second)

	got, _, _ := s.Increment(ctx, "key", opt)
	if got != 1 {
		t.Errorf("80s after first write: got %d, want 1", got)
	}
}

func TestRedisStoreSlidingPrune(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Now()
	window := 100 * time.Millisecond

	count, oldest, err := s.Increment(ctx, "key", store.IncrementOptions{Window: window, At: base})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("first: count=%d, want 1", count)
	}
	if oldest.UnixMilli() != base.UnixMilli() {
		t.Errorf("first: oldest=%v, want %v", oldest, base)
	}

	second := base.Add(50 * time.Millisecond)
	count, _, _ = s.Increment(ctx, "key", store.IncrementOptions{Window: window, At: second})
	if count != 2 {
		t.Errorf("second: count=%d, want 2", count)
	}

	// The third observation's cutoff drops the first one.
	third := base.Add(120 * time.Millisecond)
	count, oldest, _ = s.Increment(ctx, "key", store.IncrementOptions{Window: window, At: third})
	if count != 2 {
		t.Errorf("third: count=%d, want 2", count)
	}
	if oldest.UnixMilli() != second.UnixMilli() {
		t.Errorf("third: oldest=%v, want %v", oldest, second)
	}
}

func TestRedisStoreSlidingSameMillisecond(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	at := time.Now()
	opt := store.IncrementOptions{Window: time.Minute, At: at}

	// Identical timestamps must still count separately.
	s.Increment(ctx, "key", opt)
	s.Increment(ctx, "key", opt)
	count, _, err := s.Increment(ctx, "key", opt)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestRedisStoreSlidingExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	s.Increment(ctx, "key", store.IncrementOptions{Window: time.Minute, At: time.Now()})
	mr.FastForward(time.Minute + time.Second)

	count, _, _ := s.Increment(ctx, "key", store.IncrementOptions{Window: time.Minute, At: time.Now()})
	if count != 1 {
		t.Errorf("after expiry: got %d, want 1", count)
	}
}

func TestRedisStoreBucketRoundTrip(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	if got := s.Get(ctx, "missing"); got != nil {
		t.Errorf("get missing key: got %+v, want nil", got)
	}

	updated := time.Now()
	if err := s.Set(ctx, "bucket", store.BucketState{Level: 7.5, Updated: updated}, 0); err != nil {
		t.Fatal(err)
	}

	got := s.Get(ctx, "bucket")
	if got == nil {
		t.Fatal("get after set: got nil")
	}
	if got.Level != 7.5 {
		t.Errorf("level = %v, want 7.5", got.Level)
	}
	if got.Updated.UnixMilli() != updated.UnixMilli() {
		t.Errorf("updated = %v, want %v", got.Updated, updated)
	}
}

func TestRedisStoreBucketMalformed(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	mr.HSet("krl:bucket", "level", "not-a-number", "updated", "0")

	if got := s.Get(ctx, "bucket"); got != nil {
		t.Errorf("malformed record: got %+v, want nil", got)
	}
}

func TestRedisStoreBucketExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, "bucket", store.BucketState{Level: 1, Updated: time.Now()}, time.Minute)
	mr.FastForward(time.Minute + time.Second)

	if got := s.Get(ctx, "bucket"); got != nil {
		t.Errorf("after ttl: got %+v, want nil", got)
	}
}

func TestRedisStoreDecrementCounter(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	opt := store.IncrementOptions{Window: time.Minute}

	s.Increment(ctx, "key", opt)
	s.Increment(ctx, "key", opt)

	if err := s.Decrement(ctx, "key"); err != nil {
		t.Fatal(err)
	}
	s.Decrement(ctx, "key")
	s.Decrement(ctx, "key")

	// Floored at zero, so the next increment counts 1.
	got, _, _ := s.Increment(ctx, "key", opt)
	if got != 1 {
		t.Errorf("after flooring: got %d, want 1", got)
	}
}

func TestRedisStoreDecrementSliding(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Now()
	window := time.Minute

	s.Increment(ctx, "key", store.IncrementOptions{Window: window, At: base})
	s.Increment(ctx, "key", store.IncrementOptions{Window: window, At: base.Add(time.Second)})

	// The newest observation is dropped, not the oldest.
	if err := s.Decrement(ctx, "key"); err != nil {
		t.Fatal(err)
	}
	count, oldest, _ := s.Increment(ctx, "key", store.IncrementOptions{Window: window, At: base.Add(2 * time.Second)})
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if oldest.UnixMilli() != base.UnixMilli() {
		t.Errorf("oldest = %v, want %v", oldest, base)
	}
}

func TestRedisStoreReset(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	s.Increment(ctx, "key", store.IncrementOptions{Window: time.Minute})
	s.Increment(ctx, "key", store.IncrementOptions{Window: time.Minute, At: time.Now()})

	if err := s.Reset(ctx, "key"); err != nil {
		t.Fatal(err)
	}

	if mr.Exists("krl:key") {
		t.Error("counter key survived reset")
	}
	if mr.Exists("krl:key:scores") {
		t.Error("scores key survived reset")
	}
}

func TestRedisStoreResetAll(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	s.Increment(ctx, "a", store.IncrementOptions{Window: time.Minute})
	s.Increment(ctx, "b", store.IncrementOptions{Window: time.Minute, At: time.Now()})
	s.Set(ctx, "c", store.BucketState{Level: 1, Updated: time.Now()}, 0)
	mr.Set("unrelated", "survivor")

	if err := s.ResetAll(ctx); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"krl:a", "krl:b:scores", "krl:c"} {
		if mr.Exists(key) {
			t.Errorf("key %s survived reset all", key)
		}
	}
	if !mr.Exists("unrelated") {
		t.Error("key outside the namespace was deleted")
	}
}

func TestRedisStorePrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisStore(client, WithPrefix("tenant42:"))
	ctx := context.Background()

	s.Increment(ctx, "key", store.IncrementOptions{Window: time.Minute})

	if !mr.Exists("tenant42:key") {
		t.Error("expected key under custom prefix")
	}
	if mr.Exists("krl:key") {
		t.Error("key leaked into the default namespace")
	}
}
