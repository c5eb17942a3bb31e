package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side is the direction of a trade against the pool.
type Side uint8

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarshalText renders the side by name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "buy":
		*s = SideBuy
	case "sell":
		*s = SideSell
	default:
		return fmt.Errorf("unknown side %q", text)
	}
	return nil
}

// SideOf maps the isBuy flag used by the public operations to a Side.
func SideOf(isBuy bool) Side {
	if isBuy {
		return SideBuy
	}
	return SideSell
}

// tradeKey packs (option, side) into one integer: option*2 + side.
type tradeKey uint64

func keyFor(optionID int, side Side) tradeKey {
	return tradeKey(uint64(optionID)*2 + uint64(side))
}

func (k tradeKey) option() int { return int(k / 2) }

func (k tradeKey) side() Side { return Side(k % 2) }

// tradeQueue holds at most one pending amount per (trader, option, side).
type tradeQueue struct {
	pending map[common.Address]map[tradeKey]*uint256.Int
}

func newTradeQueue() *tradeQueue {
	return &tradeQueue{pending: make(map[common.Address]map[tradeKey]*uint256.Int)}
}

// get returns the pending amount, or zero.
func (q *tradeQueue) get(trader common.Address, key tradeKey) *uint256.Int {
	if amt, ok := q.pending[trader][key]; ok {
		return amt
	}
	return new(uint256.Int)
}

// stageTrade overwrites the pending amount for (trader, key) inside tx.
func (tx *txn) stageTrade(q *tradeQueue, trader common.Address, key tradeKey, amount *uint256.Int) {
	byKey, ok := q.pending[trader]
	if !ok {
		byKey = make(map[tradeKey]*uint256.Int)
		q.pending[trader] = byKey
	}
	prev, had := byKey[key]
	byKey[key] = amount.Clone()
	tx.onRevert(func() {
		if had {
			byKey[key] = prev
		} else {
			delete(byKey, key)
		}
	})
}

// consumeTrade removes the pending entry for (trader, key) inside tx.
func (tx *txn) consumeTrade(q *tradeQueue, trader common.Address, key tradeKey) {
	byKey, ok := q.pending[trader]
	if !ok {
		return
	}
	prev, had := byKey[key]
	if !had {
		return
	}
	delete(byKey, key)
	tx.onRevert(func() { byKey[key] = prev })
}
