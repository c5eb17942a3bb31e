package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammpool-backend/internal/factory"
)

// MintRequest credits newly created units to an account
type MintRequest struct {
	To     string       `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

// handleMint handles POST /api/asset/mint. Operators only.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if !s.registry.IsOperator(callerFrom(r.Context())) {
		writeDomainError(w, factory.ErrNotOperator)
		return
	}
	var req MintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddress(w, req.To, "to")
	if !ok {
		return
	}
	if req.Amount == nil || req.Amount.IsZero() {
		writeError(w, http.StatusBadRequest, "amount must be greater than 0")
		return
	}

	if err := s.ledger.Mint(to, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON{Address: to.Hex(), Balance: s.ledger.BalanceOf(to)})
}

// ApproveRequest sets the caller's allowance for a spender. PoolID may be
// given instead of Spender to approve a pool's account.
type ApproveRequest struct {
	Spender string       `json:"spender,omitempty"`
	PoolID  uint64       `json:"pool_id,omitempty"`
	Amount  *uint256.Int `json:"amount"`
}

// handleApprove handles POST /api/asset/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	var spender common.Address
	switch {
	case req.PoolID != 0:
		p, err := s.registry.Get(req.PoolID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		spender = p.Address()
	default:
		addr, ok := parseAddress(w, req.Spender, "spender")
		if !ok {
			return
		}
		spender = addr
	}

	owner := callerFrom(r.Context())
	s.ledger.Approve(owner, spender, req.Amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":     owner,
		"spender":   spender,
		"allowance": s.ledger.Allowance(owner, spender),
	})
}

// TransferRequest moves units from the caller to another account
type TransferRequest struct {
	To     string       `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

// handleTransfer handles POST /api/asset/transfer
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddress(w, req.To, "to")
	if !ok {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	from := callerFrom(r.Context())
	if err := s.ledger.Transfer(r.Context(), from, to, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON{Address: from.Hex(), Balance: s.ledger.BalanceOf(from)})
}

type balanceJSON struct {
	Address string       `json:"address"`
	Symbol  string       `json:"symbol,omitempty"`
	Balance *uint256.Int `json:"balance"`
}

// handleGetBalance handles GET /api/asset/balance/{addr}
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r.PathValue("addr"), "addr")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON{
		Address: addr.Hex(),
		Symbol:  s.ledger.Symbol(),
		Balance: s.ledger.BalanceOf(addr),
	})
}
