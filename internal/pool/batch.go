package pool

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// QueueTrade stages a trade of amount units of optionID for trader. A later
// call for the same (trader, option, side) replaces the pending amount.
func (p *Pool) QueueTrade(ctx context.Context, trader common.Address, optionID int, amount *uint256.Int, isBuy bool) error {
	return p.run(ctx, "queue trade", false, func(tx *txn) error {
		if err := p.checkTradingOpen(); err != nil {
			return err
		}
		if err := p.checkOption(optionID); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}

		side := SideOf(isBuy)
		tx.stageTrade(p.queue, trader, keyFor(optionID, side), amount)
		tx.emit(EventTradeQueued, TradeQueuedData{
			Trader: trader.Hex(),
			Option: optionID,
			Side:   side.String(),
			Amount: amount.Dec(),
		})
		return nil
	})
}

// ProcessBatch executes the pending buy and then the pending sell of every
// (traders[i], optionIDs[i]) pair in the order given, and returns the trades
// it executed in execution order. Anyone may call it. If any trade fails the
// whole batch is rolled back.
func (p *Pool) ProcessBatch(ctx context.Context, traders []common.Address, optionIDs []int) ([]*ExecutedTrade, error) {
	var executed []*ExecutedTrade
	err := p.run(ctx, "process batch", true, func(tx *txn) error {
		if p.resolved {
			return ErrAlreadyResolved
		}
		if len(traders) != len(optionIDs) {
			return ErrLengthMismatch
		}

		for i, trader := range traders {
			optionID := optionIDs[i]
			if err := p.checkOption(optionID); err != nil {
				return err
			}
			for _, side := range []Side{SideBuy, SideSell} {
				key := keyFor(optionID, side)
				amount := p.queue.get(trader, key)
				if amount.IsZero() {
					continue
				}
				if err := p.executeTrade(tx, trader, optionID, amount, side); err != nil {
					return err
				}
				tx.consumeTrade(p.queue, trader, key)
			}
		}

		tx.emit(EventBatchProcessed, BatchProcessedData{Count: len(tx.trades)})
		executed = append([]*ExecutedTrade{}, tx.trades...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(executed) > 0 {
		p.logger.InfoContext(ctx, "pool: batch processed", slog.Int("count", len(executed)))
	}
	return executed, nil
}

// executeTrade prices one trade and applies it to the option reserve. The
// payment leg is staged on tx.
func (p *Pool) executeTrade(tx *txn, trader common.Address, optionID int, amount *uint256.Int, side Side) error {
	o := p.options[optionID]
	price, err := p.price(o.reserve, o.weight, amount, side, p.feeRate)
	if err != nil {
		return err
	}

	switch side {
	case SideBuy:
		if err := tx.creditReserve(o, amount); err != nil {
			return err
		}
		if !price.IsZero() {
			p.pull(tx, trader, price)
		}
	case SideSell:
		if err := tx.debitReserve(o, amount); err != nil {
			return err
		}
		if !price.IsZero() {
			p.push(tx, trader, price)
		}
	}

	trade := newExecutedTrade(p.id, trader, optionID, side, amount, price, o.reserve, p.now())
	tx.trades = append(tx.trades, trade)
	tx.emit(EventTradeExecuted, TradeExecutedData{
		TradeID:      trade.ID,
		Trader:       trader.Hex(),
		Option:       optionID,
		Side:         side.String(),
		Amount:       amount.Dec(),
		Price:        price.Dec(),
		ReserveAfter: o.reserve.Dec(),
	})
	return nil
}
