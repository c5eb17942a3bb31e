// Package store defines the event journal that records committed pool
// events for replay and auditing.
package store

import (
	"context"
	"errors"
	"sync"

	"ammpool-backend/internal/pool"
)

// DefaultLimit and MaxLimit bound List page sizes.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrSeqWithoutPool is returned by List when AfterSeq is set without a pool:
// sequence numbers are only ordered within one pool.
var ErrSeqWithoutPool = errors.New("store: after_seq requires a pool id")

// ListOpts filters a List call. Events are returned in ascending order.
type ListOpts struct {
	AfterSeq uint64 // only events with Seq > AfterSeq; requires a pool id
	Limit    int
	Offset   int
}

// Check rejects filters that cannot apply to poolID.
func (o ListOpts) Check(poolID uint64) error {
	if poolID == 0 && o.AfterSeq > 0 {
		return ErrSeqWithoutPool
	}
	return nil
}

// Normalize clamps the limit into [1, MaxLimit].
func (o ListOpts) Normalize() ListOpts {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// EventStore persists pool events. poolID 0 lists events of every pool.
type EventStore interface {
	Append(ctx context.Context, ev pool.Event) error
	List(ctx context.Context, poolID uint64, opts ListOpts) ([]pool.Event, error)
	Close() error
}

// Memory is an in-process EventStore. Events are kept in append order,
// which is commit order within each pool.
type Memory struct {
	mu     sync.RWMutex
	events []pool.Event
	byID   map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]bool)}
}

// Append records ev. Appending an event ID twice is a no-op.
func (m *Memory) Append(_ context.Context, ev pool.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byID[ev.ID] {
		return nil
	}
	m.byID[ev.ID] = true
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) List(_ context.Context, poolID uint64, opts ListOpts) ([]pool.Event, error) {
	if err := opts.Check(poolID); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]pool.Event, 0)
	for _, ev := range m.events {
		if poolID != 0 && (ev.PoolID != poolID || ev.Seq <= opts.AfterSeq) {
			continue
		}
		out = append(out, ev)
	}
	if opts.Offset >= len(out) {
		return []pool.Event{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
