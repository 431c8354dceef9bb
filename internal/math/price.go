// internal/math/price.go
package math

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxPriceExponent bounds the positive exponent accepted from a feed.
// 10^18 times any int64 mantissa still fits in 128 bits.
const MaxPriceExponent = 18

var (
	ErrPriceExponentOutOfRange = errors.New("stable: price exponent out of range")
	ErrInvalidPrice            = errors.New("stable: invalid price")
)

var pow10 [MaxPriceExponent + 1]*big.Int

func init() {
	ten := big.NewInt(10)
	pow10[0] = big.NewInt(1)
	for i := 1; i <= MaxPriceExponent; i++ {
		pow10[i] = new(big.Int).Mul(pow10[i-1], ten)
	}
}

// NormalizePrice turns an oracle (mantissa, exponent) pair into an integer
// USD price per whole collateral unit. Negative exponents divide with
// truncation toward zero, non-negative exponents multiply.
//
//	NormalizePrice(2_500_000_000, -8) == 25
func NormalizePrice(mantissa int64, exponent int32) (*big.Int, error) {
	p := big.NewInt(mantissa)

	if exponent >= 0 {
		if exponent > MaxPriceExponent {
			return nil, fmt.Errorf("%w: %d", ErrPriceExponentOutOfRange, exponent)
		}
		return p.Mul(p, pow10[exponent]), nil
	}

	// |mantissa| < 10^19, so anything past 10^-18 truncates to zero.
	if -int64(exponent) > MaxPriceExponent {
		return p.SetInt64(0), nil
	}

	// Quo truncates toward zero; Div would floor negatives.
	return p.Quo(p, pow10[-exponent]), nil
}

// PriceToUint64 narrows a normalized price to the u64 domain used by the
// converters. Zero is passed through so the division reports it.
func PriceToUint64(price *big.Int) (uint64, error) {
	if price.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative price %s", ErrInvalidPrice, price.String())
	}
	if !price.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return price.Uint64(), nil
}

// NormalizePriceUint64 composes NormalizePrice and PriceToUint64.
func NormalizePriceUint64(mantissa int64, exponent int32) (uint64, error) {
	p, err := NormalizePrice(mantissa, exponent)
	if err != nil {
		return 0, err
	}
	return PriceToUint64(p)
}
