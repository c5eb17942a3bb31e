package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LiquidityRequest carries one amount per option, in option order.
type LiquidityRequest struct {
	Amounts []*uint256.Int `json:"amounts"`
}

// handleAddLiquidity handles POST /api/pools/{id}/liquidity
func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	var req LiquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	provider := callerFrom(r.Context())
	if err := p.AddLiquidity(r.Context(), provider, req.Amounts); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":      p.Summary(),
		"liquidity": p.Positions(provider),
	})
}

// handleRemoveLiquidity handles POST /api/pools/{id}/liquidity/remove
func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	var req LiquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	provider := callerFrom(r.Context())
	if err := p.RemoveLiquidity(r.Context(), provider, req.Amounts); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":      p.Summary(),
		"liquidity": p.Positions(provider),
	})
}

// QueueTradeRequest is the request to queue a trade for the next batch
type QueueTradeRequest struct {
	Option int          `json:"option"`
	Side   string       `json:"side"` // "buy" or "sell"
	Amount *uint256.Int `json:"amount"`
}

// handleQueueTrade handles POST /api/pools/{id}/trades
func (s *Server) handleQueueTrade(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	var req QueueTradeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var isBuy bool
	switch req.Side {
	case "buy":
		isBuy = true
	case "sell":
		isBuy = false
	default:
		writeError(w, http.StatusBadRequest, "invalid side: must be 'buy' or 'sell'")
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	trader := callerFrom(r.Context())
	if err := p.QueueTrade(r.Context(), trader, req.Option, req.Amount, isBuy); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"pool_id": p.ID(),
		"trader":  trader,
		"option":  req.Option,
		"side":    req.Side,
		"pending": p.PendingTrade(trader, req.Option, isBuy),
	})
}

// BatchEntry names one trader's queued trades on one option
type BatchEntry struct {
	Trader string `json:"trader"`
	Option int    `json:"option"`
}

// ProcessBatchRequest lists the queue entries to settle, in order
type ProcessBatchRequest struct {
	Entries []BatchEntry `json:"entries"`
}

// handleProcessBatch handles POST /api/pools/{id}/batch
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	var req ProcessBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	traders := make([]common.Address, len(req.Entries))
	options := make([]int, len(req.Entries))
	for i, e := range req.Entries {
		addr, ok := parseAddress(w, e.Trader, "trader")
		if !ok {
			return
		}
		traders[i] = addr
		options[i] = e.Option
	}

	executed, err := p.ProcessBatch(r.Context(), traders, options)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executed": len(executed),
		"trades":   executed,
	})
}
