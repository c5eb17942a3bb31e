package pool

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ExecutedTrade is a trade settled by a batch
type ExecutedTrade struct {
	ID           string         `json:"id"`
	PoolID       uint64         `json:"pool_id"`
	Trader       common.Address `json:"trader"`
	Option       int            `json:"option"`
	Side         Side           `json:"side"`
	Amount       *uint256.Int   `json:"amount"`
	Price        *uint256.Int   `json:"price"`
	ReserveAfter *uint256.Int   `json:"reserve_after"`
	Timestamp    time.Time      `json:"timestamp"`
}

func newExecutedTrade(poolID uint64, trader common.Address, optionID int, side Side, amount, price, reserveAfter *uint256.Int, ts time.Time) *ExecutedTrade {
	return &ExecutedTrade{
		ID:           uuid.New().String(),
		PoolID:       poolID,
		Trader:       trader,
		Option:       optionID,
		Side:         side,
		Amount:       amount.Clone(),
		Price:        price.Clone(),
		ReserveAfter: reserveAfter.Clone(),
		Timestamp:    ts,
	}
}

// TradeHistory stores the most recent executed trades
type TradeHistory struct {
	mu     sync.RWMutex
	trades []*ExecutedTrade
	maxLen int
}

// NewTradeHistory creates a new trade history with max capacity
func NewTradeHistory(maxLen int) *TradeHistory {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &TradeHistory{
		trades: make([]*ExecutedTrade, 0, maxLen),
		maxLen: maxLen,
	}
}

// Add records a new trade
func (h *TradeHistory) Add(trade *ExecutedTrade) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.trades = append(h.trades, trade)

	// Trim if exceeds max length
	if len(h.trades) > h.maxLen {
		h.trades = h.trades[len(h.trades)-h.maxLen:]
	}
}

// Recent returns the most recent n trades, oldest first
func (h *TradeHistory) Recent(n int) []*ExecutedTrade {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.trades) || n < 0 {
		n = len(h.trades)
	}

	result := make([]*ExecutedTrade, n)
	copy(result, h.trades[len(h.trades)-n:])
	return result
}

// Len returns the number of retained trades
func (h *TradeHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.trades)
}
