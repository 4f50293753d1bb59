package store

import (
	"context"
	"fmt"
	"time"
)

// Compile-time interface checks.
var (
	_ Store        = (*TieredStore)(nil)
	_ BulkResetter = (*TieredStore)(nil)
)

// TieredStore layers an in-memory store (fast path) over a persistent
// backend (durable path). Bucket state is written through to both and read
// from memory when possible; counters and sliding series always go to the
// persistent store, which is authoritative for every returned count.
// Intended for restart durability within a single process, not for sharing
// state between processes.
type TieredStore struct {
	memory     *MemoryStore
	persistent Store
}

// NewTieredStore creates a TieredStore backed by the given persistent store.
// An internal MemoryStore is created automatically.
func NewTieredStore(persistent Store) *TieredStore {
	return &TieredStore{
		memory:     NewMemoryStore(),
		persistent: persistent,
	}
}

// Get reads bucket state from memory first. On a miss it falls back to the
// persistent store and backfills memory so subsequent reads stay fast. The
// backfilled copy carries no expiry of its own; the next Set rearms it.
func (t *TieredStore) Get(ctx context.Context, key string) *BucketState {
	if state := t.memory.Get(ctx, key); state != nil {
		return state
	}
	state := t.persistent.Get(ctx, key)
	if state != nil {
		t.memory.Set(ctx, key, *state, 0)
	}
	return state
}

// Set writes bucket state through to both stores. The persistent store is
// written first so a failed write never leaves memory ahead of it.
func (t *TieredStore) Set(ctx context.Context, key string, state BucketState, ttl time.Duration) error {
	if err := t.persistent.Set(ctx, key, state, ttl); err != nil {
		return err
	}
	return t.memory.Set(ctx, key, state, ttl)
}

// Increment delegates to the persistent store. Counters are never served
// from memory, so there is no copy to keep in sync.
func (t *TieredStore) Increment(ctx context.Context, key string, opt IncrementOptions) (int64, time.Time, error) {
	return t.persistent.Increment(ctx, key, opt)
}

// Decrement delegates to the persistent store.
func (t *TieredStore) Decrement(ctx context.Context, key string) error {
	return t.persistent.Decrement(ctx, key)
}

// Reset removes the key from both stores.
func (t *TieredStore) Reset(ctx context.Context, key string) error {
	t.memory.Reset(ctx, key)
	return t.persistent.Reset(ctx, key)
}

// ResetAll clears both stores. The persistent backend must support bulk
// clearing too, or an error is returned after memory has been cleared.
func (t *TieredStore) ResetAll(ctx context.Context) error {
	t.memory.ResetAll(ctx)
	br, ok := t.persistent.(BulkResetter)
	if !ok {
		return fmt.Errorf("krl/store: persistent store %T does not support reset all", t.persistent)
	}
	return br.ResetAll(ctx)
}

// Close stops the memory tier's expiry timers and closes the persistent
// backend.
func (t *TieredStore) Close() error {
	t.memory.Close()
	return t.persistent.Close()
}
