package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ammpool-backend/internal/asset"
	"ammpool-backend/internal/factory"
	"ammpool-backend/internal/pool"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps a pool, factory or ledger error onto an HTTP status.
// Ledger rejections carried inside a transfer error are the caller's fault
// and take precedence over the transfer class.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var ledgerErr asset.LedgerError
	switch {
	case errors.Is(err, factory.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrReentrant), errors.Is(err, pool.ErrLifecycle):
		return http.StatusConflict
	case errors.Is(err, pool.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrInsufficient):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ledgerErr):
		if ledgerErr == asset.ErrInvalidAmount {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrTransfer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// poolFromPath resolves the {id} path value to a registered pool.
func (s *Server) poolFromPath(w http.ResponseWriter, r *http.Request) (*pool.Pool, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "pool id must be a positive integer")
		return nil, false
	}
	p, err := s.registry.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return p, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
