package pool

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset is the external value-transfer ledger a pool settles in. A pool
// calls it with its own lock released. Implementations that run callbacks
// should pass ctx through to them: the pool marks it, and a callback that
// re-enters the pool with it is rejected before touching the pool at all.
type Asset interface {
	// TransferFrom moves amount from -> to on behalf of spender, consuming
	// spender's allowance on from.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	// Transfer moves amount from -> to on from's own authority.
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// AtomicAsset is implemented by assets that can apply a list of transfers as
// one unit: either every transfer lands or none does.
type AtomicAsset interface {
	Asset
	Apply(ctx context.Context, transfers []Transfer) error
}

// Transfer is one movement of the payment asset. A zero Spender means From
// authorizes the transfer directly.
type Transfer struct {
	Spender common.Address
	From    common.Address
	To      common.Address
	Amount  *uint256.Int
}

// Pull reports whether the transfer draws on an allowance.
func (t Transfer) Pull() bool {
	return t.Spender != (common.Address{}) && t.Spender != t.From
}

// settle pushes the transfers staged by an operation to the asset. With an
// AtomicAsset the whole list commits or fails together; otherwise transfers
// are applied in order and the ones already applied are reversed on failure.
func (p *Pool) settle(ctx context.Context, transfers []Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	if atomic, ok := p.asset.(AtomicAsset); ok {
		if err := atomic.Apply(ctx, transfers); err != nil {
			return &transferError{op: "settle", err: err}
		}
		return nil
	}

	for i, t := range transfers {
		var err error
		if t.Pull() {
			err = p.asset.TransferFrom(ctx, t.Spender, t.From, t.To, t.Amount)
		} else {
			err = p.asset.Transfer(ctx, t.From, t.To, t.Amount)
		}
		if err != nil {
			p.compensate(ctx, transfers[:i])
			return &transferError{op: "settle", err: err}
		}
	}
	return nil
}

// compensate reverses already-applied transfers, newest first. It is best
// effort: a reversal the asset declines is logged and skipped.
func (p *Pool) compensate(ctx context.Context, applied []Transfer) {
	for i := len(applied) - 1; i >= 0; i-- {
		t := applied[i]
		if err := p.asset.Transfer(ctx, t.To, t.From, t.Amount); err != nil {
			p.logger.ErrorContext(ctx, "pool: compensating transfer failed",
				slog.String("from", t.To.Hex()),
				slog.String("to", t.From.Hex()),
				slog.String("amount", t.Amount.Dec()),
				slog.String("error", err.Error()),
			)
		}
	}
}
