package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ammpool-backend/internal/pool"
	"ammpool-backend/internal/store"
)

// EventStore implements store.EventStore using PostgreSQL.
type EventStore struct {
	client *Client
	pool   *pgxpool.Pool
}

var _ store.EventStore = (*EventStore)(nil)

// NewEventStore creates a new EventStore backed by the client's pool. Close
// closes the client.
func NewEventStore(c *Client) *EventStore {
	return &EventStore{client: c, pool: c.Pool()}
}

// Append inserts ev. Re-appending the same event ID is ignored.
func (s *EventStore) Append(ctx context.Context, ev pool.Event) error {
	const query = `
		INSERT INTO pool_events (event_id, pool_id, seq, type, ts, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		ev.ID, int64(ev.PoolID), int64(ev.Seq), string(ev.Type), ev.Timestamp, []byte(ev.Data),
	)
	if err != nil {
		return fmt.Errorf("postgres: append %s seq %d: %w", ev.Type, ev.Seq, err)
	}
	return nil
}

// List returns a page of events in commit order.
func (s *EventStore) List(ctx context.Context, poolID uint64, opts store.ListOpts) ([]pool.Event, error) {
	if err := opts.Check(poolID); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	query := `SELECT event_id::text, pool_id, seq, type, ts, data FROM pool_events`
	args := []any{}
	argIdx := 1

	if poolID != 0 {
		query += fmt.Sprintf(" WHERE pool_id = $%d AND seq > $%d ORDER BY seq ASC", argIdx, argIdx+1)
		args = append(args, int64(poolID), int64(opts.AfterSeq))
		argIdx += 2
	} else {
		query += " ORDER BY id ASC"
	}

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, opts.Limit)
	argIdx++
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events := make([]pool.Event, 0)
	for rows.Next() {
		var (
			ev       pool.Event
			pid, seq int64
			typ      string
			data     []byte
		)
		if err := rows.Scan(&ev.ID, &pid, &seq, &typ, &ev.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.PoolID = uint64(pid)
		ev.Seq = uint64(seq)
		ev.Type = pool.EventType(typ)
		ev.Data = data
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// Close closes the underlying client.
func (s *EventStore) Close() error {
	s.client.Close()
	return nil
}
