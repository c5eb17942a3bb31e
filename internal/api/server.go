// Package api exposes the pool factory over HTTP and streams committed pool
// events to WebSocket subscribers.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ammpool-backend/internal/asset"
	"ammpool-backend/internal/factory"
	"ammpool-backend/internal/identity"
	"ammpool-backend/internal/store"
)

// Options configures request authentication.
type Options struct {
	RequireSignatures bool
	SignatureMaxSkew  time.Duration
	// Replay rejects a signed request seen before. Defaults to an in-process
	// cache when signatures are required.
	Replay identity.ReplayGuard
}

// replayCacheSize bounds the default in-process replay cache.
const replayCacheSize = 100_000

// Server holds all dependencies for the HTTP server
type Server struct {
	opts     Options
	registry *factory.Registry
	ledger   *asset.Ledger
	events   store.EventStore
	hub      *Hub
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates a new API server. events may be nil, in which case the
// events endpoint reports 503.
func NewServer(opts Options, registry *factory.Registry, ledger *asset.Ledger, events store.EventStore, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SignatureMaxSkew <= 0 {
		opts.SignatureMaxSkew = 5 * time.Minute
	}
	if opts.RequireSignatures && opts.Replay == nil {
		opts.Replay = identity.NewMemoryReplayGuard(replayCacheSize, ReplayWindow(opts.SignatureMaxSkew))
	}
	return &Server{
		opts:     opts,
		registry: registry,
		ledger:   ledger,
		events:   events,
		hub:      hub,
		logger:   logger.With(slog.String("component", "api")),
		now:      time.Now,
	}
}

// ReplayWindow is how long a signed request must be remembered: its
// timestamp may lead or trail the server clock by maxSkew.
func ReplayWindow(maxSkew time.Duration) time.Duration { return 2 * maxSkew }

// RegisterRoutes registers all HTTP routes
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Pools
	mux.HandleFunc("GET /api/pools", s.handleListPools)
	mux.Handle("POST /api/pools", s.authenticated(s.handleCreatePool))
	mux.HandleFunc("GET /api/pools/{id}", s.handleGetPool)
	mux.HandleFunc("GET /api/pools/{id}/options", s.handleGetOptions)
	mux.HandleFunc("GET /api/pools/{id}/positions/{addr}", s.handleGetPosition)
	mux.HandleFunc("GET /api/pools/{id}/trades", s.handleGetTrades)
	mux.HandleFunc("GET /api/pools/{id}/events", s.handleGetEvents)

	// Liquidity
	mux.Handle("POST /api/pools/{id}/liquidity", s.authenticated(s.handleAddLiquidity))
	mux.Handle("POST /api/pools/{id}/liquidity/remove", s.authenticated(s.handleRemoveLiquidity))

	// Trading
	mux.Handle("POST /api/pools/{id}/trades", s.authenticated(s.handleQueueTrade))
	mux.Handle("POST /api/pools/{id}/batch", s.authenticated(s.handleProcessBatch))

	// Resolution
	mux.Handle("POST /api/pools/{id}/resolve", s.authenticated(s.handleResolve))
	mux.Handle("POST /api/pools/{id}/dispute/vote", s.authenticated(s.handleDisputeVote))
	mux.Handle("POST /api/pools/{id}/dispute/resolve", s.authenticated(s.handleResolveDispute))

	// Payment asset
	mux.Handle("POST /api/asset/mint", s.authenticated(s.handleMint))
	mux.Handle("POST /api/asset/approve", s.authenticated(s.handleApprove))
	mux.Handle("POST /api/asset/transfer", s.authenticated(s.handleTransfer))
	mux.HandleFunc("GET /api/asset/balance/{addr}", s.handleGetBalance)

	// Registry administration
	mux.Handle("POST /api/admin/pause", s.authenticated(s.handlePause))
	mux.Handle("POST /api/admin/unpause", s.authenticated(s.handleUnpause))
	mux.Handle("POST /api/admin/operators", s.authenticated(s.handleSetOperator))

	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.handleWebSocket)
	}
}

// Handler returns the routed handler wrapped in the standard middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return recoverMiddleware(s.logger, loggingMiddleware(s.logger, corsMiddleware(mux)))
}

// handleHealth is the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"pools":   len(s.registry.List()),
		"paused":  s.registry.Paused(),
		"factory": s.registry.Address(),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseAddress(w http.ResponseWriter, raw, field string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, field+" must be a hex address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
