// Package pool implements a multi-outcome prediction-market pool: liquidity
// providers fund N mutually exclusive options, traders queue trades that are
// settled in batches against an AMM price, and once the pool's end time has
// passed the factory resolves it to one winning option, subject to a single
// stake-weighted dispute window.
//
// A Pool exclusively owns its option reserves, liquidity positions, pending
// trades and dispute votes. Every public operation either commits all of its
// ledger changes and asset transfers or none of them. The pool's mutex is
// released while transfers settle with the asset; reads made in that window
// observe the settling operation's staged changes, and any operation that
// arrives in it fails with ErrReentrant.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DefaultDisputeWindow is how long after resolution dispute votes are
// accepted. It is the same for every pool and cannot be extended.
const DefaultDisputeWindow = 3 * 24 * time.Hour

// State is the lifecycle stage of a pool.
type State int

const (
	StateUninitialized State = iota
	StateOpen                // Accepting liquidity and trades
	StateResolved            // Winner recorded, dispute window running
	StateDisputed            // Vote threshold reached, awaiting factory decision
	StateFinalized           // Winner is final
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateResolved:
		return "resolved"
	case StateDisputed:
		return "disputed"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateUninitialized; st <= StateFinalized; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown pool state %q", text)
}

// Config holds the runtime collaborators of a pool. Zero values fall back to
// sensible defaults.
type Config struct {
	ID          uint64
	Address     common.Address // the pool's own account on the asset
	Logger      *slog.Logger
	Clock       func() time.Time
	Pricing     PriceFunc
	Sink        EventSink
	HistorySize int
}

// InitParams is the one-time configuration supplied by the deployment layer.
type InitParams struct {
	Factory             common.Address
	Asset               Asset
	Description         string
	EndTime             time.Time
	Options             []OptionParams
	FeeRate             uint16 // basis points
	ResolutionThreshold *uint256.Int
}

// Pool is the aggregate exposing every pool operation.
type Pool struct {
	mu       sync.Mutex
	settling bool // staged transfers are with the asset and p.mu is released

	id            uint64
	address       common.Address
	logger        *slog.Logger
	now           func() time.Time
	price         PriceFunc
	sink          EventSink
	disputeWindow time.Duration
	history       *TradeHistory
	seq           uint64

	initialized bool
	factory     common.Address
	asset       Asset
	description string
	endTime     time.Time
	feeRate     uint16
	threshold   *uint256.Int
	options     []*option

	resolved       bool
	winningOption  int
	disputed       bool
	disputeSettled bool
	disputeEndTime time.Time
	totalLiquidity *uint256.Int

	liquidity *liquidityLedger
	queue     *tradeQueue
	votes     *voteLedger
}

// New creates an uninitialized pool. Initialize must be called before any
// other operation.
func New(cfg Config) *Pool {
	p := &Pool{
		id:             cfg.ID,
		address:        cfg.Address,
		logger:         cfg.Logger,
		now:            cfg.Clock,
		price:          cfg.Pricing,
		sink:           cfg.Sink,
		disputeWindow:  DefaultDisputeWindow,
		history:        NewTradeHistory(cfg.HistorySize),
		totalLiquidity: new(uint256.Int),
		queue:          newTradeQueue(),
		votes:          newVoteLedger(),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With(slog.String("component", "pool"), slog.Uint64("pool_id", cfg.ID))
	if p.now == nil {
		p.now = time.Now
	}
	if p.price == nil {
		p.price = SymmetricPrice
	}
	return p
}

// Initialize sets the pool's immutable configuration. It succeeds exactly
// once.
func (p *Pool) Initialize(ctx context.Context, params InitParams) error {
	return p.run(ctx, "initialize", false, func(tx *txn) error {
		if p.initialized {
			return ErrAlreadyInitialized
		}
		if params.Factory == (common.Address{}) {
			return ErrInvalidFactory
		}
		if params.Asset == nil {
			return ErrInvalidAsset
		}
		if len(params.Options) < 2 {
			return ErrInvalidOptionCount
		}
		if params.FeeRate > MaxFeeRate {
			return ErrInvalidFeeRate
		}
		if params.ResolutionThreshold == nil || params.ResolutionThreshold.IsZero() {
			return ErrInvalidThreshold
		}
		if !params.EndTime.After(p.now()) {
			return ErrInvalidEndTime
		}
		for _, o := range params.Options {
			if o.Weight == nil || o.Weight.IsZero() {
				return ErrInvalidWeight
			}
		}

		p.factory = params.Factory
		p.asset = params.Asset
		p.description = params.Description
		p.endTime = params.EndTime
		p.feeRate = params.FeeRate
		p.threshold = params.ResolutionThreshold.Clone()
		p.options = newOptions(params.Options)
		p.liquidity = newLiquidityLedger(len(params.Options))
		p.initialized = true

		p.logger.InfoContext(ctx, "pool: initialized",
			slog.String("description", p.description),
			slog.Int("options", len(p.options)),
			slog.Time("end_time", p.endTime),
			slog.Int("fee_rate", int(p.feeRate)),
			slog.String("threshold", p.threshold.Dec()),
		)
		return nil
	})
}

// txn collects the effects of one operation until it commits.
type txn struct {
	ctx       context.Context
	undo      []func()
	transfers []Transfer
	events    []Event
	trades    []*ExecutedTrade
}

func (tx *txn) onRevert(fn func()) { tx.undo = append(tx.undo, fn) }

func (tx *txn) revert() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// pull stages a transfer of amount from -> pool using the pool's allowance.
func (p *Pool) pull(tx *txn, from common.Address, amount *uint256.Int) {
	tx.transfers = append(tx.transfers, Transfer{
		Spender: p.address,
		From:    from,
		To:      p.address,
		Amount:  amount.Clone(),
	})
}

// push stages a transfer of amount from the pool to to.
func (p *Pool) push(tx *txn, to common.Address, amount *uint256.Int) {
	tx.transfers = append(tx.transfers, Transfer{
		From:   p.address,
		To:     to,
		Amount: amount.Clone(),
	})
}

type guardKey struct{ p *Pool }

// run executes fn as one indivisible operation. fn runs under p.mu and its
// staged transfers settle with the lock released, so an asset callback may
// read the pool without deadlocking. Until settlement returns every other
// operation is rejected with ErrReentrant, whatever context it carries; a
// guarded operation also marks the context handed to the asset. Ledger
// changes are undone and staged transfers dropped if fn or settlement fails.
func (p *Pool) run(ctx context.Context, op string, guarded bool, fn func(tx *txn) error) error {
	if ctx.Value(guardKey{p}) != nil {
		return fmt.Errorf("pool: %s: %w", op, ErrReentrant)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settling {
		return fmt.Errorf("pool: %s: %w", op, ErrReentrant)
	}
	if op != "initialize" && !p.initialized {
		return fmt.Errorf("pool: %s: %w", op, ErrNotInitialized)
	}

	tx := &txn{ctx: ctx}
	if guarded {
		tx.ctx = context.WithValue(ctx, guardKey{p}, struct{}{})
	}

	err := fn(tx)
	if err == nil && len(tx.transfers) > 0 {
		err = p.settleUnlocked(tx)
	}
	if err != nil {
		tx.revert()
		p.logger.DebugContext(ctx, "pool: operation rejected",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("pool: %s: %w", op, err)
	}

	p.commit(ctx, tx)
	return nil
}

// settleUnlocked hands tx's transfers to the asset with p.mu released.
// p.mu must be held on entry and is held again on return.
func (p *Pool) settleUnlocked(tx *txn) error {
	p.settling = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.settling = false
	}()
	return p.settle(tx.ctx, tx.transfers)
}

// commit records executed trades and publishes staged events in order. The
// operation has already taken effect, so events are published on a context
// that ignores the caller's cancellation.
func (p *Pool) commit(ctx context.Context, tx *txn) {
	for _, t := range tx.trades {
		p.history.Add(t)
	}
	ctx = context.WithoutCancel(ctx)
	now := p.now()
	for _, ev := range tx.events {
		p.seq++
		ev.PoolID = p.id
		ev.Seq = p.seq
		ev.Timestamp = now
		if p.sink == nil {
			continue
		}
		if err := p.sink.Publish(ctx, ev); err != nil {
			p.logger.WarnContext(ctx, "pool: event sink failed",
				slog.String("event", string(ev.Type)),
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
}

// checkOption validates an option index.
func (p *Pool) checkOption(optionID int) error {
	if optionID < 0 || optionID >= len(p.options) {
		return ErrInvalidOption
	}
	return nil
}

// checkTradingOpen enforces the notResolved guard and the end-time deadline.
func (p *Pool) checkTradingOpen() error {
	if p.resolved {
		return ErrAlreadyResolved
	}
	if !p.now().Before(p.endTime) {
		return ErrPoolEnded
	}
	return nil
}

// --- Read accessors ---

// Summary is the read-only view of a pool.
type Summary struct {
	ID                  uint64         `json:"id"`
	Address             common.Address `json:"address"`
	Factory             common.Address `json:"factory"`
	Description         string         `json:"description"`
	EndTime             time.Time      `json:"end_time"`
	OptionCount         int            `json:"option_count"`
	FeeRate             uint16         `json:"fee_rate"`
	ResolutionThreshold *uint256.Int   `json:"resolution_threshold"`
	State               State          `json:"state"`
	Resolved            bool           `json:"resolved"`
	WinningOption       int            `json:"winning_option"`
	Disputed            bool           `json:"disputed"`
	DisputeEndTime      time.Time      `json:"dispute_end_time"`
	TotalLiquidity      *uint256.Int   `json:"total_liquidity"`
	TotalDisputeStake   *uint256.Int   `json:"total_dispute_stake"`
}

// ID returns the identifier assigned by the deployment layer.
func (p *Pool) ID() uint64 { return p.id }

// Address returns the pool's account on the payment asset.
func (p *Pool) Address() common.Address { return p.address }

// Summary returns a consistent snapshot of the pool's configuration and
// lifecycle fields.
func (p *Pool) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Summary{
		ID:                p.id,
		Address:           p.address,
		Factory:           p.factory,
		Description:       p.description,
		EndTime:           p.endTime,
		OptionCount:       len(p.options),
		FeeRate:           p.feeRate,
		State:             p.stateLocked(),
		Resolved:          p.resolved,
		WinningOption:     p.winningOption,
		Disputed:          p.disputed,
		DisputeEndTime:    p.disputeEndTime,
		TotalLiquidity:    p.totalLiquidity.Clone(),
		TotalDisputeStake: p.votes.total.Clone(),
	}
	if p.threshold != nil {
		s.ResolutionThreshold = p.threshold.Clone()
	}
	return s
}

// Option returns the summary of option i.
func (p *Pool) Option(i int) (OptionSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkOption(i); err != nil {
		return OptionSummary{}, err
	}
	return p.options[i].summary(i), nil
}

// Options returns the summaries of all options in index order.
func (p *Pool) Options() []OptionSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OptionSummary, len(p.options))
	for i, o := range p.options {
		out[i] = o.summary(i)
	}
	return out
}

// Position returns provider's liquidity in option i.
func (p *Pool) Position(provider common.Address, i int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkOption(i); err != nil {
		return nil, err
	}
	return p.liquidity.position(provider, i), nil
}

// Positions returns provider's liquidity in every option.
func (p *Pool) Positions(provider common.Address) []*uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*uint256.Int, len(p.options))
	for i := range out {
		out[i] = p.liquidity.position(provider, i)
	}
	return out
}

// PendingTrade returns the amount trader has queued for (option, side).
func (p *Pool) PendingTrade(trader common.Address, optionID int, isBuy bool) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.get(trader, keyFor(optionID, SideOf(isBuy))).Clone()
}

// RecentTrades returns up to n of the most recently executed trades.
func (p *Pool) RecentTrades(n int) []*ExecutedTrade {
	return p.history.Recent(n)
}

// State returns the lifecycle stage at the current clock time.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Pool) stateLocked() State {
	switch {
	case !p.initialized:
		return StateUninitialized
	case !p.resolved:
		return StateOpen
	case p.disputed:
		return StateDisputed
	case p.disputeSettled || p.now().After(p.disputeEndTime):
		return StateFinalized
	default:
		return StateResolved
	}
}
