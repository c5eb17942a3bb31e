package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/holiman/uint256"

	"ammpool-backend/internal/factory"
	"ammpool-backend/internal/pool"
	"ammpool-backend/internal/store"
)

// OptionRequest describes one option of a new pool. Weight may be omitted to
// use the configured default.
type OptionRequest struct {
	Description string       `json:"description"`
	Weight      *uint256.Int `json:"weight,omitempty"`
}

// CreatePoolRequest is the request to deploy a new pool
type CreatePoolRequest struct {
	Description         string          `json:"description"`
	EndTime             string          `json:"end_time"` // RFC3339 format
	Options             []OptionRequest `json:"options"`
	FeeRate             uint16          `json:"fee_rate"`
	ResolutionThreshold *uint256.Int    `json:"resolution_threshold"`
}

// PoolJSON is the JSON representation of a pool
type PoolJSON struct {
	pool.Summary
	Options []pool.OptionSummary `json:"options"`
}

func poolJSON(p *pool.Pool) PoolJSON {
	return PoolJSON{Summary: p.Summary(), Options: p.Options()}
}

// handleCreatePool handles POST /api/pools
func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_time format, use RFC3339")
		return
	}

	options := make([]pool.OptionParams, len(req.Options))
	for i, o := range req.Options {
		options[i] = pool.OptionParams{Description: o.Description, Weight: o.Weight}
	}

	p, err := s.registry.CreatePool(r.Context(), callerFrom(r.Context()), factory.CreateRequest{
		Description:         req.Description,
		EndTime:             endTime,
		Options:             options,
		FeeRate:             req.FeeRate,
		ResolutionThreshold: req.ResolutionThreshold,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, poolJSON(p))
}

// handleListPools handles GET /api/pools
func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools := s.registry.List()

	result := make([]pool.Summary, 0, len(pools))
	for _, p := range pools {
		result = append(result, p.Summary())
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetPool handles GET /api/pools/{id}
func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, poolJSON(p))
}

// handleGetOptions handles GET /api/pools/{id}/options
func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Options())
}

// PositionJSON is a participant's standing in one pool
type PositionJSON struct {
	Address      string         `json:"address"`
	Liquidity    []*uint256.Int `json:"liquidity"`
	PendingBuys  []*uint256.Int `json:"pending_buys"`
	PendingSells []*uint256.Int `json:"pending_sells"`
	DisputeVote  *uint256.Int   `json:"dispute_vote"`
}

// handleGetPosition handles GET /api/pools/{id}/positions/{addr}
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	addr, ok := parseAddress(w, r.PathValue("addr"), "addr")
	if !ok {
		return
	}

	liquidity := p.Positions(addr)
	resp := PositionJSON{
		Address:      addr.Hex(),
		Liquidity:    liquidity,
		PendingBuys:  make([]*uint256.Int, len(liquidity)),
		PendingSells: make([]*uint256.Int, len(liquidity)),
		DisputeVote:  p.DisputeVote(addr),
	}
	for i := range liquidity {
		resp.PendingBuys[i] = p.PendingTrade(addr, i, true)
		resp.PendingSells[i] = p.PendingTrade(addr, i, false)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetTrades handles GET /api/pools/{id}/trades?limit=N
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	writeJSON(w, http.StatusOK, p.RecentTrades(limit))
}

// handleGetEvents handles GET /api/pools/{id}/events?after=SEQ&limit=N&offset=N
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}

	after, err1 := queryInt(r, "after", 0)
	limit, err2 := queryInt(r, "limit", 0)
	offset, err3 := queryInt(r, "offset", 0)
	if err1 != nil || err2 != nil || err3 != nil || after < 0 || limit < 0 || offset < 0 {
		writeError(w, http.StatusBadRequest, "after, limit and offset must be non-negative integers")
		return
	}

	events, err := s.events.List(r.Context(), p.ID(), store.ListOpts{
		AfterSeq: uint64(after),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "api: list events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not list events")
		return
	}
	if events == nil {
		events = []pool.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
