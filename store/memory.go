package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Store        = (*MemoryStore)(nil)
	_ BulkResetter = (*MemoryStore)(nil)
)

// record holds the in-memory state for one key. Only one of the value
// fields is populated, depending on the algorithm that owns the key.
type record struct {
	count  int64
	times  []time.Time
	bucket *BucketState

	gen   uint64
	timer *time.Timer
}

// MemoryStore is an in-memory Store implementation. TTLs are enforced by at
// most one pending deferred deletion per key, cancelled and rearmed when the
// key is written with a new expiry. It is safe for concurrent use. State is
// process-local and lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	gen     uint64
	records map[string]*record
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*record),
	}
}

// Get returns the bucket state for key, or nil if absent.
func (m *MemoryStore) Get(_ context.Context, key string) *BucketState {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key]
	if !ok || r.bucket == nil {
		return nil
	}
	state := *r.bucket
	return &state
}

// Set stores bucket state for key and rearms its expiry.
func (m *MemoryStore) Set(_ context.Context, key string, state BucketState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key]
	if !ok {
		r = &record{}
		m.records[key] = r
	}
	r.bucket = &BucketState{Level: state.Level, Updated: state.Updated}
	m.schedule(key, r, ttl)
	return nil
}

// Increment records one observation for key. Counter mode arms the key's
// expiry only on first write so the window keeps its original end; sliding
// mode prunes, appends, and rearms the expiry on every call.
func (m *MemoryStore) Increment(_ context.Context, key string, opt IncrementOptions) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opt.Sliding() {
		r, ok := m.records[key]
		if !ok {
			r = &record{}
			m.records[key] = r
		}
		cutoff := opt.At.Add(-opt.Window)
		kept := r.times[:0]
		for _, ts := range r.times {
			if !ts.Before(cutoff) {
				kept = append(kept, ts)
			}
		}
		r.times = append(kept, opt.At)
		m.schedule(key, r, opt.Window)
		return int64(len(r.times)), r.times[0], nil
	}

	r, ok := m.records[key]
	if !ok {
		r = &record{count: 1}
		m.records[key] = r
		m.schedule(key, r, opt.Window)
		return 1, time.Time{}, nil
	}
	r.count++
	return r.count, time.Time{}, nil
}

// Decrement undoes the most recent increment for key. Counters floor at
// zero; sliding series drop their newest entry.
func (m *MemoryStore) Decrement(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key]
	if !ok {
		return nil
	}
	switch {
	case len(r.times) > 0:
		r.times = r.times[:len(r.times)-1]
	case r.count > 0:
		r.count--
	}
	return nil
}

// Reset removes all state for the given key.
func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.records[key]; ok {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(m.records, key)
	}
	return nil
}

// ResetAll removes every key, cancelling pending expiries first so no timer
// fires against the cleared state.
func (m *MemoryStore) ResetAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	m.records = make(map[string]*record)
	return nil
}

// Close stops all pending expiry timers and clears the store.
func (m *MemoryStore) Close() error {
	return m.ResetAll(context.Background())
}

// schedule replaces the pending expiry for key so that at most one deferred
// deletion is outstanding per key. A ttl of zero or less cancels expiry.
// Callers must hold mu.
func (m *MemoryStore) schedule(key string, r *record, ttl time.Duration) {
	m.gen++
	r.gen = m.gen
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if ttl <= 0 {
		return
	}
	gen := r.gen
	r.timer = time.AfterFunc(ttl, func() {
		m.expire(key, gen)
	})
}

// expire deletes key unless the record was rewritten after the timer was
// armed. A timer that lost a Stop race must not remove newer state.
func (m *MemoryStore) expire(key string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.records[key]; ok && r.gen == gen {
		delete(m.records, key)
	}
}
