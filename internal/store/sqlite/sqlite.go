// Package sqlite implements store.EventStore on SQLite (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ammpool-backend/internal/pool"
	"ammpool-backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
    id         TEXT    PRIMARY KEY,
    pool_id    INTEGER NOT NULL,
    seq        INTEGER NOT NULL,
    type       TEXT    NOT NULL,
    ts_unix_ns INTEGER NOT NULL,
    data       TEXT    NOT NULL,
    UNIQUE (pool_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_pool_events_type ON pool_events(type);
`

// EventStore persists pool events in a single SQLite table.
type EventStore struct {
	db *sql.DB
}

var _ store.EventStore = (*EventStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.Open: apply schema: %w", err)
	}
	return &EventStore{db: db}, nil
}

// Append inserts ev. Re-appending the same event ID is ignored.
func (s *EventStore) Append(ctx context.Context, ev pool.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_events (id, pool_id, seq, type, ts_unix_ns, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, int64(ev.PoolID), int64(ev.Seq), string(ev.Type), ev.Timestamp.UnixNano(), string(ev.Data),
	)
	if err != nil {
		return fmt.Errorf("sqlite.Append: %s seq %d: %w", ev.Type, ev.Seq, err)
	}
	return nil
}

// List returns a page of events in commit order.
func (s *EventStore) List(ctx context.Context, poolID uint64, opts store.ListOpts) ([]pool.Event, error) {
	if err := opts.Check(poolID); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	var (
		rows *sql.Rows
		err  error
	)
	if poolID == 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, pool_id, seq, type, ts_unix_ns, data FROM pool_events
			ORDER BY rowid ASC LIMIT ? OFFSET ?`,
			opts.Limit, opts.Offset,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, pool_id, seq, type, ts_unix_ns, data FROM pool_events
			WHERE pool_id = ? AND seq > ?
			ORDER BY seq ASC LIMIT ? OFFSET ?`,
			int64(poolID), int64(opts.AfterSeq), opts.Limit, opts.Offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.List: query: %w", err)
	}
	defer rows.Close()

	events := make([]pool.Event, 0)
	for rows.Next() {
		var (
			ev           pool.Event
			pid, seq, ts int64
			typ, data    string
		)
		if err := rows.Scan(&ev.ID, &pid, &seq, &typ, &ts, &data); err != nil {
			return nil, fmt.Errorf("sqlite.List: scan: %w", err)
		}
		ev.PoolID = uint64(pid)
		ev.Seq = uint64(seq)
		ev.Type = pool.EventType(typ)
		ev.Timestamp = time.Unix(0, ts).UTC()
		ev.Data = []byte(data)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.List: rows: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}
