package api

import (
	"net/http"

	"github.com/holiman/uint256"
)

// ResolveRequest is the request to resolve a pool
type ResolveRequest struct {
	WinningOption int `json:"winning_option"`
}

// handleResolve handles POST /api/pools/{id}/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.registry.Resolve(r.Context(), callerFrom(r.Context()), p.ID(), req.WinningOption); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Summary())
}

// DisputeVoteRequest stakes amount against the recorded outcome
type DisputeVoteRequest struct {
	Amount *uint256.Int `json:"amount"`
}

// handleDisputeVote handles POST /api/pools/{id}/dispute/vote
func (s *Server) handleDisputeVote(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	var req DisputeVoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	voter := callerFrom(r.Context())
	if err := p.SubmitDisputeVote(r.Context(), voter, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":  p.Summary(),
		"stake": p.DisputeVote(voter),
	})
}

// ResolveDisputeRequest settles a dispute. NewWinningOption is ignored
// unless Upheld is true.
type ResolveDisputeRequest struct {
	Upheld           bool `json:"upheld"`
	NewWinningOption int  `json:"new_winning_option"`
}

// handleResolveDispute handles POST /api/pools/{id}/dispute/resolve
func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	var req ResolveDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.registry.ResolveDispute(r.Context(), callerFrom(r.Context()), p.ID(), req.Upheld, req.NewWinningOption)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Summary())
}
