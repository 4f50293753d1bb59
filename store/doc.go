// Package store defines the [Store] interface for rate limit state backends
// and provides three implementations:
//
//   - [MemoryStore]: fast, process-local state that is lost on restart.
//   - [SQLiteStore]: persistent state backed by a SQLite database.
//   - [TieredStore]: a MemoryStore read cache over a persistent backend.
//
// A Redis-backed implementation lives in the store/redis subpackage. Custom
// backends can be created by implementing the [Store] interface; backends
// that can also wipe every key they own implement [BulkResetter].
package store
