package pool

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// liquidityLedger tracks how much each provider contributed to each option.
type liquidityLedger struct {
	optionCount int
	positions   map[common.Address][]*uint256.Int // provider -> per-option amount
}

func newLiquidityLedger(optionCount int) *liquidityLedger {
	return &liquidityLedger{
		optionCount: optionCount,
		positions:   make(map[common.Address][]*uint256.Int),
	}
}

// position returns the provider's contribution to option i, or zero.
func (l *liquidityLedger) position(provider common.Address, i int) *uint256.Int {
	pos, ok := l.positions[provider]
	if !ok {
		return new(uint256.Int)
	}
	return pos[i].Clone()
}

// getOrCreate returns the provider's position row (must hold pool lock).
func (l *liquidityLedger) getOrCreate(provider common.Address) []*uint256.Int {
	pos, ok := l.positions[provider]
	if !ok {
		pos = make([]*uint256.Int, l.optionCount)
		for i := range pos {
			pos[i] = new(uint256.Int)
		}
		l.positions[provider] = pos
	}
	return pos
}

// creditPosition adds amount to the provider's position in option i inside tx.
func (tx *txn) creditPosition(l *liquidityLedger, provider common.Address, i int, amount *uint256.Int) error {
	_, existed := l.positions[provider]
	pos := l.getOrCreate(provider)
	next, overflow := new(uint256.Int).AddOverflow(pos[i], amount)
	if overflow {
		return ErrOverflow
	}
	prev := pos[i]
	pos[i] = next
	tx.onRevert(func() {
		pos[i] = prev
		if !existed {
			delete(l.positions, provider)
		}
	})
	return nil
}

// debitPosition removes amount from the provider's position in option i
// inside tx.
func (tx *txn) debitPosition(l *liquidityLedger, provider common.Address, i int, amount *uint256.Int) error {
	pos, ok := l.positions[provider]
	if !ok || pos[i].Lt(amount) {
		return ErrInsufficientPosition
	}
	prev := pos[i]
	pos[i] = new(uint256.Int).Sub(prev, amount)
	tx.onRevert(func() { pos[i] = prev })
	return nil
}

// AddLiquidity deposits amounts[i] into option i on behalf of provider. The
// total is pulled from provider in a single transfer; if it fails nothing is
// recorded.
func (p *Pool) AddLiquidity(ctx context.Context, provider common.Address, amounts []*uint256.Int) error {
	return p.run(ctx, "add liquidity", true, func(tx *txn) error {
		if err := p.checkTradingOpen(); err != nil {
			return err
		}
		if len(amounts) != len(p.options) {
			return ErrLengthMismatch
		}

		total := new(uint256.Int)
		for i, amt := range amounts {
			if amt == nil || amt.IsZero() {
				continue
			}
			if _, overflow := total.AddOverflow(total, amt); overflow {
				return ErrOverflow
			}
			if err := tx.creditReserve(p.options[i], amt); err != nil {
				return err
			}
			if err := tx.creditPosition(p.liquidity, provider, i, amt); err != nil {
				return err
			}
		}
		if total.IsZero() {
			return ErrZeroAmount
		}

		next, overflow := new(uint256.Int).AddOverflow(p.totalLiquidity, total)
		if overflow {
			return ErrOverflow
		}
		prev := p.totalLiquidity
		p.totalLiquidity = next
		tx.onRevert(func() { p.totalLiquidity = prev })

		p.pull(tx, provider, total)
		tx.emit(EventLiquidityAdded, LiquidityAddedData{
			Provider: provider.Hex(),
			Amounts:  decimals(normalize(amounts)),
			Total:    total.Dec(),
		})

		p.logger.InfoContext(ctx, "pool: liquidity added",
			slog.String("provider", provider.Hex()),
			slog.String("total", total.Dec()),
		)
		return nil
	})
}

// RemoveLiquidity withdraws amounts[i] from provider's position in option i
// once the pool is resolved and not under dispute. Positions and reserves
// shrink for every option, but only the winning option's amount is paid
// out; the rest is forfeited.
func (p *Pool) RemoveLiquidity(ctx context.Context, provider common.Address, amounts []*uint256.Int) error {
	return p.run(ctx, "remove liquidity", true, func(tx *txn) error {
		if !p.resolved {
			return ErrNotResolved
		}
		if p.disputed {
			return ErrDisputed
		}
		if len(amounts) != len(p.options) {
			return ErrLengthMismatch
		}

		amounts = normalize(amounts)
		withdrawn := false
		for i, amt := range amounts {
			if amt.IsZero() {
				continue
			}
			withdrawn = true
			if err := tx.debitPosition(p.liquidity, provider, i, amt); err != nil {
				return err
			}
			if err := tx.debitReserve(p.options[i], amt); err != nil {
				return err
			}
		}
		if !withdrawn {
			return ErrZeroAmount
		}

		payout := amounts[p.winningOption].Clone()
		if !payout.IsZero() {
			if p.totalLiquidity.Lt(payout) {
				return ErrInsufficientReserve
			}
			prev := p.totalLiquidity
			p.totalLiquidity = new(uint256.Int).Sub(prev, payout)
			tx.onRevert(func() { p.totalLiquidity = prev })
			p.push(tx, provider, payout)
		}

		tx.emit(EventLiquidityRemoved, LiquidityRemovedData{
			Provider: provider.Hex(),
			Amounts:  decimals(amounts),
			Payout:   payout.Dec(),
		})

		p.logger.InfoContext(ctx, "pool: liquidity removed",
			slog.String("provider", provider.Hex()),
			slog.String("payout", payout.Dec()),
		)
		return nil
	})
}

// normalize replaces nil entries with zero.
func normalize(amounts []*uint256.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(amounts))
	for i, a := range amounts {
		if a == nil {
			out[i] = new(uint256.Int)
			continue
		}
		out[i] = a.Clone()
	}
	return out
}
