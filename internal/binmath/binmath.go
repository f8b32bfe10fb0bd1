// Package binmath implements the fixed-point price math for the bin ledger.
//
// Prices are unsigned Q64.64 values: the price of bin id is
// (1 + binStep/10000)^id scaled by 2^64. All arithmetic is pure integer
// math over 256-bit intermediates, so results are deterministic across
// platforms.
package binmath

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

// Rounding selects the rounding direction for division results.
type Rounding int

const (
	RoundingDown Rounding = iota
	RoundingUp
)

const (
	// ScaleOffset is the number of fractional bits in a Q64.64 price.
	ScaleOffset = 64

	// BasisPointMax is the denominator for basis-point quantities.
	BasisPointMax = 10000

	// MinBinID and MaxBinID bound the usable bin id range. Beyond these
	// the power computation can no longer be represented in Q64.64.
	MinBinID int32 = -443636
	MaxBinID int32 = 443636
)

var (
	ErrZeroBinStep     = errors.New("binmath: bin step is zero")
	ErrBinIDOutOfRange = errors.New("binmath: bin id out of range")
	ErrPriceOutOfRange = errors.New("binmath: price out of range")
	ErrOverflow        = errors.New("binmath: overflow")
	ErrDivideByZero    = errors.New("binmath: division by zero")
)

var (
	scaleBig   = new(big.Int).Lsh(big.NewInt(1), ScaleOffset)
	oneSquared = new(big.Int).Lsh(big.NewInt(1), 2*ScaleOffset)
	scaleDec   = decimal.NewFromBigInt(scaleBig, 0)
)

// One returns 1.0 in Q64.64.
func One() uint128.Uint128 {
	return uint128.From64(1).Lsh(ScaleOffset)
}

// FromBig converts a big.Int to a Uint128, failing on negative values or
// values wider than 128 bits.
func FromBig(v *big.Int) (uint128.Uint128, error) {
	if v.Sign() < 0 || v.BitLen() > 128 {
		return uint128.Zero, ErrOverflow
	}
	return uint128.FromBig(v), nil
}

// Add computes x + y, failing instead of wrapping on overflow.
func Add(x, y uint128.Uint128) (uint128.Uint128, error) {
	if x.Cmp(uint128.Max.Sub(y)) > 0 {
		return uint128.Zero, ErrOverflow
	}
	return x.Add(y), nil
}

// Sub computes x - y, failing instead of wrapping on underflow.
func Sub(x, y uint128.Uint128) (uint128.Uint128, error) {
	if x.Cmp(y) < 0 {
		return uint128.Zero, ErrOverflow
	}
	return x.Sub(y), nil
}

// MulShr computes (x * y) >> shift with the requested rounding.
func MulShr(x, y uint128.Uint128, shift uint, rounding Rounding) (uint128.Uint128, error) {
	prod := new(big.Int).Mul(x.Big(), y.Big())
	return shiftRight(prod, shift, rounding)
}

// ShlDiv computes (x << shift) / y with the requested rounding.
func ShlDiv(x, y uint128.Uint128, shift uint, rounding Rounding) (uint128.Uint128, error) {
	if y.IsZero() {
		return uint128.Zero, ErrDivideByZero
	}
	num := new(big.Int).Lsh(x.Big(), shift)
	return divide(num, y.Big(), rounding)
}

// MulDiv computes (x * y) / denominator with the requested rounding.
func MulDiv(x, y, denominator uint128.Uint128, rounding Rounding) (uint128.Uint128, error) {
	if denominator.IsZero() {
		return uint128.Zero, ErrDivideByZero
	}
	prod := new(big.Int).Mul(x.Big(), y.Big())
	return divide(prod, denominator.Big(), rounding)
}

func shiftRight(v *big.Int, shift uint, rounding Rounding) (uint128.Uint128, error) {
	quo := new(big.Int).Rsh(v, shift)
	if rounding == RoundingUp {
		rem := new(big.Int).And(v, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), shift), big.NewInt(1)))
		if rem.Sign() != 0 {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return FromBig(quo)
}

func divide(num, den *big.Int, rounding Rounding) (uint128.Uint128, error) {
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rounding == RoundingUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return FromBig(quo)
}

// PriceFromID returns the Q64.64 price of a bin:
// (1 + binStep/10000)^binID. The base is quantized into Q64.64 before
// exponentiation, so repeated application is exactly reproducible.
func PriceFromID(binID int32, binStep uint16) (uint128.Uint128, error) {
	if binStep == 0 {
		return uint128.Zero, ErrZeroBinStep
	}
	if binID < MinBinID || binID > MaxBinID {
		return uint128.Zero, ErrBinIDOutOfRange
	}
	p, err := priceFromIDUnchecked(binID, binStep)
	if err != nil {
		return uint128.Zero, err
	}
	return FromBig(p)
}

func priceFromIDUnchecked(binID int32, binStep uint16) (*big.Int, error) {
	base := q64Base(binStep)
	if binID >= 0 {
		return powQ64(base, uint32(binID))
	}
	p, err := powQ64(base, uint32(-int64(binID)))
	if err != nil {
		return nil, err
	}
	// price = 1 / base^|id|, computed as 2^128 / p in Q64.64.
	inv := new(big.Int).Quo(oneSquared, p)
	if inv.Sign() == 0 {
		return nil, ErrPriceOutOfRange
	}
	return inv, nil
}

// q64Base returns (1 + binStep/10000) in Q64.64, truncated.
func q64Base(binStep uint16) *big.Int {
	bps := new(big.Int).Lsh(big.NewInt(int64(binStep)), ScaleOffset)
	bps.Quo(bps, big.NewInt(BasisPointMax))
	return bps.Add(bps, scaleBig)
}

// powQ64 raises a Q64.64 base to an integer power by squaring, truncating
// after every multiplication. Fails once the result no longer fits 128 bits.
func powQ64(base *big.Int, exp uint32) (*big.Int, error) {
	result := new(big.Int).Set(scaleBig)
	b := new(big.Int).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, b)
			result.Rsh(result, ScaleOffset)
			if result.BitLen() > 128 {
				return nil, ErrOverflow
			}
		}
		exp >>= 1
		if exp > 0 {
			b.Mul(b, b)
			b.Rsh(b, ScaleOffset)
			if b.BitLen() > 128 {
				return nil, ErrOverflow
			}
		}
	}
	return result, nil
}

// IDFromPrice returns the greatest bin id whose price is <= the given
// Q64.64 price (floor semantics). A price that lands exactly on a bin
// boundary maps to that bin's id.
func IDFromPrice(price uint128.Uint128, binStep uint16) (int32, error) {
	if binStep == 0 {
		return 0, ErrZeroBinStep
	}
	if price.IsZero() {
		return 0, ErrPriceOutOfRange
	}

	leq, err := priceLeq(MinBinID, binStep, price)
	if err != nil {
		return 0, err
	}
	if !leq {
		return 0, ErrPriceOutOfRange
	}

	// PriceFromID is monotone in binID, so bisect for the greatest id
	// whose price does not exceed the target.
	lo, hi := MinBinID, MaxBinID
	for lo < hi {
		mid := int32((int64(lo) + int64(hi) + 1) / 2)
		leq, err := priceLeq(mid, binStep, price)
		if err != nil {
			return 0, err
		}
		if leq {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	if lo == MaxBinID {
		// Reject prices that belong to a bin beyond the safety range.
		next, err := priceFromIDUnchecked(MaxBinID+1, binStep)
		if err == nil && next.Cmp(price.Big()) <= 0 {
			return 0, ErrBinIDOutOfRange
		}
	}
	return lo, nil
}

// priceLeq reports whether the price of binID is <= target. A Q64.64
// underflow on the negative side means the price has collapsed toward
// zero and compares as smaller; an overflow on the positive side compares
// as larger.
func priceLeq(binID int32, binStep uint16, target uint128.Uint128) (bool, error) {
	p, err := priceFromIDUnchecked(binID, binStep)
	if err != nil {
		if errors.Is(err, ErrOverflow) || errors.Is(err, ErrPriceOutOfRange) {
			return binID < 0, nil
		}
		return false, err
	}
	if p.BitLen() > 128 {
		return false, nil
	}
	return p.Cmp(target.Big()) <= 0, nil
}

// PriceToDecimal renders a Q64.64 price as a decimal for display and
// analytics. 18 fractional digits, which is below one unit in the last
// Q64.64 digit for any in-range price.
func PriceToDecimal(price uint128.Uint128) decimal.Decimal {
	return decimal.NewFromBigInt(price.Big(), 0).DivRound(scaleDec, 18)
}
