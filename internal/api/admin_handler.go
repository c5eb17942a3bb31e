package api

import "net/http"

// handlePause handles POST /api/admin/pause. Owner only.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Pause(callerFrom(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// handleUnpause handles POST /api/admin/unpause. Owner only.
func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Unpause(callerFrom(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// OperatorRequest grants or revokes operator rights
type OperatorRequest struct {
	Operator string `json:"operator"`
	Enabled  bool   `json:"enabled"`
}

// handleSetOperator handles POST /api/admin/operators. Owner only.
func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, ok := parseAddress(w, req.Operator, "operator")
	if !ok {
		return
	}

	caller := callerFrom(r.Context())
	var err error
	if req.Enabled {
		err = s.registry.AddOperator(caller, op)
	} else {
		err = s.registry.RemoveOperator(caller, op)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operator": op,
		"enabled":  s.registry.IsOperator(op),
	})
}
