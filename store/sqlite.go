package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface checks.
var (
	_ Store        = (*SQLiteStore)(nil)
	_ BulkResetter = (*SQLiteStore)(nil)
)

// SQLiteStore is a persistent Store backed by SQLite. Counters and bucket
// levels live in krl_records; sliding series live in krl_observations.
// Expiry is a millisecond deadline column, checked on read and enforced
// lazily on write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("krl/store: open sqlite: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS krl_records (
			key        TEXT PRIMARY KEY,
			count      INTEGER NOT NULL DEFAULT 0,
			level      REAL,
			updated_ms INTEGER,
			expires_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS krl_observations (
			seq   INTEGER PRIMARY KEY AUTOINCREMENT,
			key   TEXT NOT NULL,
			ts_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS krl_observations_key_ts
			ON krl_observations (key, ts_ms)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("krl/store: create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the bucket state for key, or nil when the key is absent,
// expired, or unreadable.
func (s *SQLiteStore) Get(ctx context.Context, key string) *BucketState {
	var level sql.NullFloat64
	var updated, expires sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT level, updated_ms, expires_ms FROM krl_records WHERE key = ?`, key,
	).Scan(&level, &updated, &expires)
	if err != nil || !level.Valid {
		return nil
	}
	if expires.Int64 > 0 && expires.Int64 <= time.Now().UnixMilli() {
		return nil
	}
	return &BucketState{
		Level:   level.Float64,
		Updated: time.UnixMilli(updated.Int64),
	}
}

// Set stores bucket state for key, replacing any previous record and expiry.
func (s *SQLiteStore) Set(ctx context.Context, key string, state BucketState, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO krl_records (key, level, updated_ms, expires_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			level      = excluded.level,
			updated_ms = excluded.updated_ms,
			expires_ms = excluded.expires_ms`,
		key, state.Level, state.Updated.UnixMilli(), expires,
	)
	if err != nil {
		return fmt.Errorf("krl/store: set %s: %w", key, err)
	}
	return nil
}

// Increment records one observation for key.
func (s *SQLiteStore) Increment(ctx context.Context, key string, opt IncrementOptions) (int64, time.Time, error) {
	if opt.Sliding() {
		return s.incrementSeries(ctx, key, opt)
	}
	return s.incrementCounter(ctx, key, opt.Window)
}

// incrementCounter adds one to the key's counter. A key whose deadline has
// passed counts as new, so the write that revives it also restarts its
// window.
func (s *SQLiteStore) incrementCounter(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	var count, expires int64
	err = tx.QueryRowContext(ctx,
		`SELECT count, expires_ms FROM krl_records WHERE key = ?`, key,
	).Scan(&count, &expires)

	fresh := err == sql.ErrNoRows || (err == nil && expires > 0 && expires <= now)
	if fresh {
		var deadline int64
		if window > 0 {
			deadline = now + window.Milliseconds()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO krl_records (key, count, expires_ms)
			VALUES (?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				count      = 1,
				level      = NULL,
				updated_ms = NULL,
				expires_ms = excluded.expires_ms`,
			key, deadline,
		); err != nil {
			return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
		}
		return 1, time.Time{}, tx.Commit()
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
	}

	count++
	if _, err := tx.ExecContext(ctx,
		`UPDATE krl_records SET count = ? WHERE key = ?`, count, key,
	); err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
	}
	return count, time.Time{}, tx.Commit()
}

// incrementSeries appends opt.At to the key's observation series, pruning
// entries that fell out of the window.
func (s *SQLiteStore) incrementSeries(ctx context.Context, key string, opt IncrementOptions) (int64, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
	}
	defer tx.Rollback()

	cutoff := opt.At.Add(-opt.Window).UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM krl_observations WHERE key = ? AND ts_ms < ?`, key, cutoff,
	); err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO krl_observations (key, ts_ms) VALUES (?, ?)`, key, opt.At.UnixMilli(),
	); err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
	}

	var count, oldest int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(ts_ms) FROM krl_observations WHERE key = ?`, key,
	).Scan(&count, &oldest); err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store: increment %s: %w", key, err)
	}
	return count, time.UnixMilli(oldest), tx.Commit()
}

// Decrement undoes the most recent increment for key. Sliding series drop
// their newest observation; counters floor at zero.
func (s *SQLiteStore) Decrement(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("krl/store: decrement %s: %w", key, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM krl_observations WHERE seq = (
			SELECT seq FROM krl_observations
			WHERE key = ?
			ORDER BY ts_ms DESC, seq DESC
			LIMIT 1
		)`, key)
	if err != nil {
		return fmt.Errorf("krl/store: decrement %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE krl_records SET count = count - 1 WHERE key = ? AND count > 0`, key,
	); err != nil {
		return fmt.Errorf("krl/store: decrement %s: %w", key, err)
	}
	return tx.Commit()
}

// Reset removes all state for the given key.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("krl/store: reset %s: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM krl_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("krl/store: reset %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM krl_observations WHERE key = ?`, key); err != nil {
		return fmt.Errorf("krl/store: reset %s: %w", key, err)
	}
	return tx.Commit()
}

// ResetAll removes every record and observation in the database.
func (s *SQLiteStore) ResetAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("krl/store: reset all: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM krl_records`); err != nil {
		return fmt.Errorf("krl/store: reset all: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM krl_observations`); err != nil {
		return fmt.Errorf("krl/store: reset all: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
