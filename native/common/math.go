package common

import (
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

// BpsDenominator is the basis point scale: 10000 bps equals 100%.
const BpsDenominator uint64 = 10_000

var bpsDenominator = uint256.NewInt(BpsDenominator)

// ValidateBps rejects basis point values above 100%.
func ValidateBps(field string, bps uint64) error {
	if bps > BpsDenominator {
		return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "%s %d exceeds %d", field, bps, BpsDenominator)
	}
	return nil
}

// BpsOf returns floor(amount * bps / 10000). The intermediate product is
// computed at 512 bits so it never overflows.
func BpsOf(amount *uint256.Int, bps uint64) *uint256.Int {
	if amount == nil || amount.IsZero() || bps == 0 {
		return new(uint256.Int)
	}
	out, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), bpsDenominator)
	return out
}

// Split divides amount into the payee and affiliate portions for the given
// affiliate share. The affiliate receives floor(amount*shareBps/10000) and
// the payee the remainder, so the two parts always sum to amount.
func Split(amount *uint256.Int, shareBps uint64) (payee, affiliate *uint256.Int) {
	if amount == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	if shareBps > BpsDenominator {
		shareBps = BpsDenominator
	}
	affiliate = BpsOf(amount, shareBps)
	payee = new(uint256.Int).Sub(amount, affiliate)
	return payee, affiliate
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
