package pool

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// voteLedger records dispute stakes. Entries are kept after the dispute is
// settled as a historical record.
type voteLedger struct {
	stakes map[common.Address]*uint256.Int
	total  *uint256.Int
}

func newVoteLedger() *voteLedger {
	return &voteLedger{
		stakes: make(map[common.Address]*uint256.Int),
		total:  new(uint256.Int),
	}
}

func (v *voteLedger) stake(voter common.Address) *uint256.Int {
	if s, ok := v.stakes[voter]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// addStake credits amount to voter and the running total inside tx.
func (tx *txn) addStake(v *voteLedger, voter common.Address, amount *uint256.Int) error {
	prevStake, had := v.stakes[voter]
	cur := prevStake
	if !had {
		cur = new(uint256.Int)
	}
	nextStake, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return ErrOverflow
	}
	nextTotal, overflow := new(uint256.Int).AddOverflow(v.total, amount)
	if overflow {
		return ErrOverflow
	}

	prevTotal := v.total
	v.stakes[voter] = nextStake
	v.total = nextTotal
	tx.onRevert(func() {
		v.total = prevTotal
		if had {
			v.stakes[voter] = prevStake
		} else {
			delete(v.stakes, voter)
		}
	})
	return nil
}

// Resolve records the winning option. Only the factory may call it, once,
// and only at or after the pool's end time. It opens the dispute window.
func (p *Pool) Resolve(ctx context.Context, caller common.Address, winningOption int) error {
	return p.run(ctx, "resolve", false, func(tx *txn) error {
		if caller != p.factory {
			return ErrNotFactory
		}
		if p.resolved {
			return ErrAlreadyResolved
		}
		now := p.now()
		if now.Before(p.endTime) {
			return ErrPoolNotEnded
		}
		if err := p.checkOption(winningOption); err != nil {
			return err
		}

		prevWinner, prevEnd := p.winningOption, p.disputeEndTime
		p.resolved = true
		p.winningOption = winningOption
		p.disputeEndTime = now.Add(p.disputeWindow)
		tx.onRevert(func() {
			p.resolved = false
			p.winningOption = prevWinner
			p.disputeEndTime = prevEnd
		})

		tx.emit(EventPoolResolved, PoolResolvedData{
			WinningOption:  winningOption,
			DisputeEndTime: p.disputeEndTime,
		})
		p.logger.InfoContext(ctx, "pool: resolved",
			slog.Int("winning_option", winningOption),
			slog.Time("dispute_end_time", p.disputeEndTime),
		)
		return nil
	})
}

// SubmitDisputeVote stakes amount from voter against the current
// resolution. Stakes are not refunded. When the total stake reaches the
// resolution threshold the pool becomes disputed.
func (p *Pool) SubmitDisputeVote(ctx context.Context, voter common.Address, amount *uint256.Int) error {
	return p.run(ctx, "submit dispute vote", true, func(tx *txn) error {
		if !p.resolved {
			return ErrNotResolved
		}
		if p.disputeSettled {
			return ErrDisputeSettled
		}
		if p.disputed {
			return ErrDisputed
		}
		if p.now().After(p.disputeEndTime) {
			return ErrDisputeWindowClosed
		}
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}

		if err := tx.addStake(p.votes, voter, amount); err != nil {
			return err
		}
		if !p.votes.total.Lt(p.threshold) {
			p.disputed = true
			tx.onRevert(func() { p.disputed = false })
		}
		p.pull(tx, voter, amount)

		tx.emit(EventDisputeVoteSubmitted, DisputeVoteData{
			Voter:      voter.Hex(),
			Amount:     amount.Dec(),
			VoterStake: p.votes.stake(voter).Dec(),
			TotalStake: p.votes.total.Dec(),
			Disputed:   p.disputed,
		})
		if p.disputed {
			p.logger.WarnContext(ctx, "pool: resolution disputed",
				slog.String("total_stake", p.votes.total.Dec()),
				slog.String("threshold", p.threshold.Dec()),
			)
		}
		return nil
	})
}

// ResolveDispute settles a dispute. If upheld, newWinningOption replaces
// the recorded winner. Either way the pool leaves the disputed state and no
// further votes are accepted.
func (p *Pool) ResolveDispute(ctx context.Context, caller common.Address, upheld bool, newWinningOption int) error {
	return p.run(ctx, "resolve dispute", false, func(tx *txn) error {
		if caller != p.factory {
			return ErrNotFactory
		}
		if !p.disputed {
			return ErrNotDisputed
		}
		if upheld {
			if err := p.checkOption(newWinningOption); err != nil {
				return err
			}
			prev := p.winningOption
			p.winningOption = newWinningOption
			tx.onRevert(func() { p.winningOption = prev })
		}
		p.disputed = false
		p.disputeSettled = true
		tx.onRevert(func() {
			p.disputed = true
			p.disputeSettled = false
		})

		tx.emit(EventDisputeResolved, DisputeResolvedData{
			Upheld:        upheld,
			WinningOption: p.winningOption,
		})
		p.logger.InfoContext(ctx, "pool: dispute resolved",
			slog.Bool("upheld", upheld),
			slog.Int("winning_option", p.winningOption),
		)
		return nil
	})
}

// DisputeVote returns voter's total stake.
func (p *Pool) DisputeVote(voter common.Address) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.votes.stake(voter)
}

// TotalDisputeStake returns the stake committed by all voters.
func (p *Pool) TotalDisputeStake() *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.votes.total.Clone()
}
