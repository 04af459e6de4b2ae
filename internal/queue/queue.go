// Package queue implements the durable, on-disk FIFO of pending events
// described in §4.2: SQLite is the embedded relational store, a single
// connection enforces the single-writer discipline the dispatcher and
// drainer are coordinated under.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/D0cNet/SiemCore/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id            TEXT PRIMARY KEY,
	cached_at     INTEGER NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	last_retry_at INTEGER,
	event_json    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_entries_cached_at ON queue_entries(cached_at, id);
`

// Queue is the persistent FIFO of event.QueueEntry. All mutating methods
// take an internal mutex; callers outside the dispatcher/drainer
// coordinator must not call them directly (§4.2 invariant 3).
type Queue struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	path string
}

// Open creates or opens the store at path, applying WAL pragmas and the
// schema. A file that exists but fails to open as SQLite (corruption) is
// returned as an error — callers must treat it as the fatal "corruption
// it cannot recover" case from §4.2/§7.
func Open(path string) (*Queue, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}

	q := &Queue{conn: conn, path: path}
	if err := q.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) init() error {
	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(q.conn, pragma, nil); err != nil {
			return fmt.Errorf("queue: init: %w", err)
		}
	}
	if err := sqlitex.ExecuteScript(q.conn, schema, nil); err != nil {
		return fmt.Errorf("queue: init: store unusable or corrupt: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.conn.Close()
}

// Enqueue appends one entry with cachedAt = now, carrying the event's
// current RetryCount. It returns ok=false without error when the store
// already holds maxCachedEvents entries.
func (q *Queue) Enqueue(ev event.Event, maxCachedEvents int) (ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count, err := q.countLocked()
	if err != nil {
		return false, err
	}
	if count >= maxCachedEvents {
		return false, nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("queue: enqueue: marshal: %w", err)
	}

	err = sqlitex.Execute(q.conn,
		`INSERT INTO queue_entries (id, cached_at, retry_count, last_retry_at, event_json)
		 VALUES (?, ?, ?, NULL, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{ev.ID.String(), time.Now().UTC().UnixNano(), ev.RetryCount, string(payload)},
		})
	if err != nil {
		return false, fmt.Errorf("queue: enqueue: %w", err)
	}
	return true, nil
}

// PeekBatch returns the oldest up to n entries without removing them,
// ordered by cachedAt ascending (ties broken by id for determinism).
func (q *Queue) PeekBatch(n int) ([]event.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var entries []event.QueueEntry
	err := sqlitex.Execute(q.conn,
		`SELECT cached_at, retry_count, last_retry_at, event_json
		 FROM queue_entries ORDER BY cached_at ASC, id ASC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{n},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue: peekBatch: %w", err)
	}
	return entries, nil
}

func scanEntry(stmt *sqlite.Stmt) (event.QueueEntry, error) {
	var ev event.Event
	if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &ev); err != nil {
		return event.QueueEntry{}, fmt.Errorf("queue: scan: unmarshal event: %w", err)
	}
	entry := event.QueueEntry{
		Event:      ev,
		CachedAt:   time.Unix(0, stmt.ColumnInt64(0)).UTC(),
		RetryCount: int(stmt.ColumnInt64(1)),
	}
	if !stmt.ColumnIsNull(2) {
		t := time.Unix(0, stmt.ColumnInt64(2)).UTC()
		entry.LastRetryAt = &t
	}
	return entry, nil
}

// Remove deletes the named entries transactionally. It is idempotent: an
// id already removed by a concurrent Remove is simply skipped.
func (q *Queue) Remove(ids []uuid.UUID) (err error) {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	endTx, err := sqlitex.ImmediateTransaction(q.conn)
	if err != nil {
		return fmt.Errorf("queue: remove: begin: %w", err)
	}
	defer endTx(&err)

	for _, id := range ids {
		if execErr := sqlitex.Execute(q.conn, `DELETE FROM queue_entries WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id.String()}}); execErr != nil {
			return fmt.Errorf("queue: remove: %w", execErr)
		}
	}
	return nil
}

// BumpRetry increments retryCount and sets lastRetryAt = now for each
// named entry still present.
func (q *Queue) BumpRetry(ids []uuid.UUID) (err error) {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	endTx, err := sqlitex.ImmediateTransaction(q.conn)
	if err != nil {
		return fmt.Errorf("queue: bumpRetry: begin: %w", err)
	}
	defer endTx(&err)

	now := time.Now().UTC().UnixNano()
	for _, id := range ids {
		if execErr := sqlitex.Execute(q.conn,
			`UPDATE queue_entries SET retry_count = retry_count + 1, last_retry_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{now, id.String()}}); execErr != nil {
			return fmt.Errorf("queue: bumpRetry: %w", execErr)
		}
	}
	return nil
}

// RetryCountOf returns the current retryCount for id, used by the
// drainer to decide whether an entry has exceeded maxRetries after a
// BumpRetry.
func (q *Queue) RetryCountOf(id uuid.UUID) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var count int
	found := false
	err := sqlitex.Execute(q.conn, `SELECT retry_count FROM queue_entries WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = int(stmt.ColumnInt64(0))
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, false, fmt.Errorf("queue: retryCountOf: %w", err)
	}
	return count, found, nil
}

// EvictExpired removes entries with cachedAt older than maxAge and
// returns the number removed.
func (q *Queue) EvictExpired(maxAge time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
	if err := sqlitex.Execute(q.conn, `DELETE FROM queue_entries WHERE cached_at < ?`,
		&sqlitex.ExecOptions{Args: []any{cutoff}}); err != nil {
		return 0, fmt.Errorf("queue: evictExpired: %w", err)
	}
	return q.conn.Changes(), nil
}

// EvictOldest removes the single oldest entry, used by the dispatcher
// when enqueue finds the store full (§4.6).
func (q *Queue) EvictOldest() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return sqlitex.Execute(q.conn,
		`DELETE FROM queue_entries WHERE id IN (
			SELECT id FROM queue_entries ORDER BY cached_at ASC, id ASC LIMIT 1
		)`, nil)
}

// Count returns the current number of entries.
func (q *Queue) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countLocked()
}

func (q *Queue) countLocked() (int, error) {
	var count int
	err := sqlitex.Execute(q.conn, `SELECT COUNT(*) FROM queue_entries`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("queue: count: %w", err)
	}
	return count, nil
}

// Clear removes every entry.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := sqlitex.Execute(q.conn, `DELETE FROM queue_entries`, nil); err != nil {
		return fmt.Errorf("queue: clear: %w", err)
	}
	return nil
}
