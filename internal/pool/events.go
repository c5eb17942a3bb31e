package pool

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType names an observable pool event.
type EventType string

const (
	EventLiquidityAdded       EventType = "liquidity_added"
	EventLiquidityRemoved     EventType = "liquidity_removed"
	EventTradeQueued          EventType = "trade_queued"
	EventTradeExecuted        EventType = "trade_executed"
	EventBatchProcessed       EventType = "batch_processed"
	EventPoolResolved         EventType = "pool_resolved"
	EventDisputeVoteSubmitted EventType = "dispute_vote_submitted"
	EventDisputeResolved      EventType = "dispute_resolved"
)

// Event is emitted once per committed state change. Seq increases by one per
// event within a pool, so observers can detect gaps and restore order.
type Event struct {
	ID        string          `json:"id"`
	PoolID    uint64          `json:"pool_id"`
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventSink receives committed pool events. Publish is called while the pool
// is locked, in commit order, so implementations must not block for long and
// must not call back into the pool.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event payloads. Amounts are decimal strings.

type LiquidityAddedData struct {
	Provider string   `json:"provider"`
	Amounts  []string `json:"amounts"`
	Total    string   `json:"total"`
}

type LiquidityRemovedData struct {
	Provider string   `json:"provider"`
	Amounts  []string `json:"amounts"`
	Payout   string   `json:"payout"`
}

type TradeQueuedData struct {
	Trader string `json:"trader"`
	Option int    `json:"option"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

type TradeExecutedData struct {
	TradeID      string `json:"trade_id"`
	Trader       string `json:"trader"`
	Option       int    `json:"option"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	ReserveAfter string `json:"reserve_after"`
}

type BatchProcessedData struct {
	Count int `json:"count"`
}

type PoolResolvedData struct {
	WinningOption  int       `json:"winning_option"`
	DisputeEndTime time.Time `json:"dispute_end_time"`
}

type DisputeVoteData struct {
	Voter      string `json:"voter"`
	Amount     string `json:"amount"`
	VoterStake string `json:"voter_stake"`
	TotalStake string `json:"total_stake"`
	Disputed   bool   `json:"disputed"`
}

type DisputeResolvedData struct {
	Upheld        bool `json:"upheld"`
	WinningOption int  `json:"winning_option"`
}

// emit stages an event on tx; it is published only if tx commits.
func (tx *txn) emit(typ EventType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		// payloads are plain structs of strings and ints
		raw = json.RawMessage(`{}`)
	}
	tx.events = append(tx.events, Event{
		ID:   uuid.New().String(),
		Type: typ,
		Data: raw,
	})
}

func decimals(amounts []*uint256.Int) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.Dec()
	}
	return out
}
