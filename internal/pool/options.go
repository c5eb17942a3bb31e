package pool

import (
	"github.com/holiman/uint256"
)

// option is one outcome of the pool. reserve values are replaced, never
// mutated in place, so a captured pointer stays a valid snapshot.
type option struct {
	description string
	reserve     *uint256.Int
	weight      *uint256.Int
}

// OptionSummary is the read-only view of an option.
type OptionSummary struct {
	Index       int          `json:"index"`
	Description string       `json:"description"`
	Reserve     *uint256.Int `json:"reserve"`
	Weight      *uint256.Int `json:"weight"`
}

// OptionParams configures one option at initialization.
type OptionParams struct {
	Description string
	Weight      *uint256.Int
}

func newOptions(params []OptionParams) []*option {
	opts := make([]*option, len(params))
	for i, p := range params {
		opts[i] = &option{
			description: p.Description,
			reserve:     new(uint256.Int),
			weight:      p.Weight.Clone(),
		}
	}
	return opts
}

func (o *option) summary(i int) OptionSummary {
	return OptionSummary{
		Index:       i,
		Description: o.description,
		Reserve:     o.reserve.Clone(),
		Weight:      o.weight.Clone(),
	}
}

// creditReserve adds amount to the option's reserve inside tx.
func (tx *txn) creditReserve(o *option, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(o.reserve, amount)
	if overflow {
		return ErrOverflow
	}
	prev := o.reserve
	o.reserve = next
	tx.onRevert(func() { o.reserve = prev })
	return nil
}

// debitReserve removes amount from the option's reserve inside tx. The
// reserve never goes below zero.
func (tx *txn) debitReserve(o *option, amount *uint256.Int) error {
	if o.reserve.Lt(amount) {
		return ErrInsufficientReserve
	}
	prev := o.reserve
	o.reserve = new(uint256.Int).Sub(prev, amount)
	tx.onRevert(func() { o.reserve = prev })
	return nil
}
