// Package factory is the deployment layer: it creates pools with sequential
// IDs, owns the factory identity every pool trusts for resolution, and
// gates privileged calls behind an operator allow-list and a pause switch.
package factory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"ammpool-backend/internal/pool"
)

// Config configures a Registry and the pools it creates.
type Config struct {
	Address       common.Address // factory identity recorded in every pool
	Owner         common.Address
	Operators     []common.Address
	Asset         pool.Asset
	Sink          pool.EventSink
	Logger        *slog.Logger
	Clock         func() time.Time
	Pricing       pool.PriceFunc
	HistorySize   int
	DefaultWeight *uint256.Int // used for options created without a weight
}

// Registry manages all deployed pools
type Registry struct {
	mu        sync.RWMutex
	cfg       Config
	logger    *slog.Logger
	pools     map[uint64]*pool.Pool
	nextID    uint64
	operators map[common.Address]bool
	paused    bool
}

// NewRegistry creates a registry. The owner is always an operator.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	r := &Registry{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "factory")),
		pools:     make(map[uint64]*pool.Pool),
		nextID:    1,
		operators: make(map[common.Address]bool),
	}
	r.operators[cfg.Owner] = true
	for _, op := range cfg.Operators {
		r.operators[op] = true
	}
	return r
}

// Address returns the factory identity.
func (r *Registry) Address() common.Address { return r.cfg.Address }

// Owner returns the registry owner.
func (r *Registry) Owner() common.Address { return r.cfg.Owner }

// CreateRequest is the request to deploy a new pool
type CreateRequest struct {
	Description         string
	EndTime             time.Time
	Options             []pool.OptionParams
	FeeRate             uint16
	ResolutionThreshold *uint256.Int
}

// CreatePool deploys and initializes a pool. IDs are assigned sequentially
// from 1 and are only consumed by pools that initialize successfully.
func (r *Registry) CreatePool(ctx context.Context, caller common.Address, req CreateRequest) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOperator(caller); err != nil {
		return nil, err
	}

	id := r.nextID
	options := make([]pool.OptionParams, len(req.Options))
	for i, o := range req.Options {
		options[i] = o
		if (o.Weight == nil || o.Weight.IsZero()) && r.cfg.DefaultWeight != nil {
			options[i].Weight = r.cfg.DefaultWeight.Clone()
		}
	}

	p := pool.New(pool.Config{
		ID:          id,
		Address:     crypto.CreateAddress(r.cfg.Address, id),
		Logger:      r.cfg.Logger,
		Clock:       r.cfg.Clock,
		Pricing:     r.cfg.Pricing,
		Sink:        r.cfg.Sink,
		HistorySize: r.cfg.HistorySize,
	})
	err := p.Initialize(ctx, pool.InitParams{
		Factory:             r.cfg.Address,
		Asset:               r.cfg.Asset,
		Description:         req.Description,
		EndTime:             req.EndTime,
		Options:             options,
		FeeRate:             req.FeeRate,
		ResolutionThreshold: req.ResolutionThreshold,
	})
	if err != nil {
		return nil, err
	}

	r.pools[id] = p
	r.nextID++

	r.logger.InfoContext(ctx, "factory: pool created",
		slog.Uint64("pool_id", id),
		slog.String("address", p.Address().Hex()),
		slog.String("creator", caller.Hex()),
	)
	return p, nil
}

// Get retrieves a pool by ID
func (r *Registry) Get(id uint64) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return p, nil
}

// List returns all pools ordered by ID
func (r *Registry) List() []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID() < pools[j].ID() })
	return pools
}

// Resolve records the winning option of pool id on the caller's behalf.
func (r *Registry) Resolve(ctx context.Context, caller common.Address, id uint64, winningOption int) error {
	p, err := r.privileged(caller, id)
	if err != nil {
		return err
	}
	if err := p.Resolve(ctx, r.cfg.Address, winningOption); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "factory: pool resolved",
		slog.Uint64("pool_id", id),
		slog.Int("winning_option", winningOption),
		slog.String("operator", caller.Hex()),
	)
	return nil
}

// ResolveDispute settles the dispute on pool id on the caller's behalf.
func (r *Registry) ResolveDispute(ctx context.Context, caller common.Address, id uint64, upheld bool, newWinningOption int) error {
	p, err := r.privileged(caller, id)
	if err != nil {
		return err
	}
	if err := p.ResolveDispute(ctx, r.cfg.Address, upheld, newWinningOption); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "factory: dispute resolved",
		slog.Uint64("pool_id", id),
		slog.Bool("upheld", upheld),
		slog.String("operator", caller.Hex()),
	)
	return nil
}

// privileged looks up a pool for an operator-only call.
func (r *Registry) privileged(caller common.Address, id uint64) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOperator(caller); err != nil {
		return nil, err
	}
	p, ok := r.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return p, nil
}

func (r *Registry) checkOperator(caller common.Address) error {
	if !r.operators[caller] {
		return ErrNotOperator
	}
	if r.paused {
		return ErrPaused
	}
	return nil
}

// IsOperator reports whether addr may perform privileged calls.
func (r *Registry) IsOperator(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[addr]
}

// Paused reports whether privileged calls are suspended.
func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// Pause suspends pool creation and resolution.
func (r *Registry) Pause(caller common.Address) error {
	return r.setPaused(caller, true)
}

// Unpause lifts a pause.
func (r *Registry) Unpause(caller common.Address) error {
	return r.setPaused(caller, false)
}

func (r *Registry) setPaused(caller common.Address, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Owner {
		return ErrNotOwner
	}
	r.paused = paused
	r.logger.Info("factory: pause switched", slog.Bool("paused", paused))
	return nil
}

// AddOperator grants operator rights.
func (r *Registry) AddOperator(caller, operator common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Owner {
		return ErrNotOwner
	}
	r.operators[operator] = true
	return nil
}

// RemoveOperator revokes operator rights. The owner cannot be removed.
func (r *Registry) RemoveOperator(caller, operator common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Owner {
		return ErrNotOwner
	}
	if operator != r.cfg.Owner {
		delete(r.operators, operator)
	}
	return nil
}
