package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

var ErrEntryNotFound = errors.New("queue entry not found")

// Entry is one fix waiting to be delivered.
type Entry struct {
	Key              string
	SessionID        string
	Seq              int64
	Payload          []byte
	Accuracy         *float64
	LowQuality  bool
	RetryCount  int
	NextRetryAt time.Time
	CreatedAt   time.Time
}

// Queue is the on-device durable store of undelivered fixes. Entries
// survive process restarts and are read back in insertion order.
type Queue struct {
	db *sql.DB
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_key   TEXT NOT NULL UNIQUE,
	session_id        TEXT NOT NULL,
	seq               INTEGER NOT NULL,
	payload           BLOB NOT NULL,
	accuracy          REAL,
	low_quality       INTEGER NOT NULL DEFAULT 0,
	retry_count       INTEGER NOT NULL DEFAULT 0,
	next_retry_at     INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS queue_entries_session ON queue_entries (session_id, id);
CREATE TABLE IF NOT EXISTS sync_cursors (
	session_id TEXT PRIMARY KEY,
	acked_seq  INTEGER NOT NULL
);`

// OpenQueue opens (creating if needed) the queue database at path.
func OpenQueue(ctx context.Context, path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	// One physical connection: SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, queueSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	log.Printf("[agent] queue opened at %s", path)
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error { return q.db.Close() }

// Enqueue stores e. Re-enqueueing an existing key is a no-op.
func (q *Queue) Enqueue(ctx context.Context, e Entry) error {
	var accuracy sql.NullFloat64
	if e.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *e.Accuracy, Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_entries
			(idempotency_key, session_id, seq, payload, accuracy, low_quality, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		e.Key, e.SessionID, e.Seq, e.Payload, accuracy,
		e.LowQuality, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", e.Key, err)
	}
	return nil
}

// Peek returns the oldest entry of a session, or ErrEntryNotFound.
func (q *Queue) Peek(ctx context.Context, sessionID string) (Entry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT idempotency_key, session_id, seq, payload, accuracy, low_quality,
		       retry_count, next_retry_at, created_at
		FROM queue_entries
		WHERE session_id = ?
		ORDER BY id
		LIMIT 1`, sessionID)

	var (
		e                  Entry
		accuracy           sql.NullFloat64
		nextRetry, created int64
	)
	err := row.Scan(&e.Key, &e.SessionID, &e.Seq, &e.Payload, &accuracy, &e.LowQuality,
		&e.RetryCount, &nextRetry, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("peek %s: %w", sessionID, err)
	}
	if accuracy.Valid {
		v := accuracy.Float64
		e.Accuracy = &v
	}
	if nextRetry > 0 {
		e.NextRetryAt = time.UnixMilli(nextRetry)
	}
	e.CreatedAt = time.UnixMilli(created)
	return e, nil
}

// Ack removes a delivered entry and advances the session's sync cursor.
func (q *Queue) Ack(ctx context.Context, e Entry) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE idempotency_key = ?`, e.Key)
	if err != nil {
		return fmt.Errorf("ack %s: %w", e.Key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_cursors (session_id, acked_seq) VALUES (?, ?)
		ON CONFLICT (session_id) DO UPDATE SET acked_seq = MAX(acked_seq, excluded.acked_seq)`,
		e.SessionID, e.Seq); err != nil {
		return fmt.Errorf("advance cursor %s: %w", e.SessionID, err)
	}
	return tx.Commit()
}

// Defer records a failed attempt and schedules the next one.
func (q *Queue) Defer(ctx context.Context, key string, next time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET retry_count = retry_count + 1, next_retry_at = ?
		WHERE idempotency_key = ?`, next.UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("defer %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (q *Queue) Depth(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (q *Queue) TotalDepth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries`).Scan(&n)
	return n, err
}

// Sessions lists sessions with pending entries, oldest backlog first.
func (q *Queue) Sessions(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT session_id FROM queue_entries
		GROUP BY session_id
		ORDER BY MIN(id)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MaxSeq is the highest seq ever assigned for a session, counting both
// pending entries and the acked cursor.
func (q *Queue) MaxSeq(ctx context.Context, sessionID string) (int64, error) {
	var pending, acked sql.NullInt64
	if err := q.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM queue_entries WHERE session_id = ?`, sessionID).Scan(&pending); err != nil {
		return 0, err
	}
	err := q.db.QueryRowContext(ctx,
		`SELECT acked_seq FROM sync_cursors WHERE session_id = ?`, sessionID).Scan(&acked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return max(pending.Int64, acked.Int64), nil
}

// AckedSeq is the session's sync cursor.
func (q *Queue) AckedSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx,
		`SELECT acked_seq FROM sync_cursors WHERE session_id = ?`, sessionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// Trim brings a session's depth down towards limit by dropping its oldest
// low-quality entries. Accurate fixes and the session's two newest entries,
// which decide the current arrival or departure, are always kept. It returns
// the number dropped and whether the session is still over the limit.
func (q *Queue) Trim(ctx context.Context, sessionID string, limit int) (int, bool, error) {
	depth, err := q.Depth(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	excess := depth - limit
	if excess <= 0 {
		return 0, false, nil
	}

	res, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_entries
		WHERE id IN (
			SELECT id FROM queue_entries
			WHERE session_id = ?1
			  AND low_quality = 1
			  AND id NOT IN (
				SELECT id FROM queue_entries
				WHERE session_id = ?1
				ORDER BY id DESC
				LIMIT 2
			  )
			ORDER BY id
			LIMIT ?2
		)`, sessionID, excess)
	if err != nil {
		return 0, false, fmt.Errorf("trim %s: %w", sessionID, err)
	}
	dropped, _ := res.RowsAffected()
	return int(dropped), int(dropped) < excess, nil
}
