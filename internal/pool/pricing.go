package pool

import "github.com/holiman/uint256"

// Fee rates are expressed in basis points.
const (
	FeeDenominator = 10000
	MaxFeeRate     = 1000
)

// PriceFunc computes the settlement price of a trade of amount units of one
// option given that option's current reserve and weight. It must be pure.
type PriceFunc func(reserve, weight, amount *uint256.Int, side Side, feeRate uint16) (*uint256.Int, error)

// SymmetricPrice prices a trade against the option's own constant
// k = reserve * weight:
//
//	newReserve = reserve + amount (buy) or reserve - amount (sell)
//	price      = k / newReserve * (10000 + feeRate) / 10000
//
// Both sides use the same formula, fee included.
func SymmetricPrice(reserve, weight, amount *uint256.Int, side Side, feeRate uint16) (*uint256.Int, error) {
	k, overflow := new(uint256.Int).MulOverflow(reserve, weight)
	if overflow {
		return nil, ErrOverflow
	}

	var newReserve *uint256.Int
	if side == SideBuy {
		newReserve, overflow = new(uint256.Int).AddOverflow(reserve, amount)
		if overflow {
			return nil, ErrOverflow
		}
	} else {
		if reserve.Lt(amount) {
			return nil, ErrInsufficientReserve
		}
		newReserve = new(uint256.Int).Sub(reserve, amount)
	}
	if newReserve.IsZero() {
		return nil, ErrEmptyReserve
	}

	price := new(uint256.Int).Div(k, newReserve)
	price, overflow = price.MulOverflow(price, uint256.NewInt(FeeDenominator+uint64(feeRate)))
	if overflow {
		return nil, ErrOverflow
	}
	return price.Div(price, uint256.NewInt(FeeDenominator)), nil
}
