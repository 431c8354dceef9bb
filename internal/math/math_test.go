package math_test

import (
	"errors"
	"math"
	"testing"

	fpmath "StableLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrice(t *testing.T) {
	cases := []struct {
		name     string
		mantissa int64
		exponent int32
		want     int64
	}{
		{"negative exponent truncates", 2_500_000_000, -8, 25},
		{"fractional part dropped", 2_599_999_999, -8, 25},
		{"zero exponent", 42, 0, 42},
		{"positive exponent multiplies", 7, 3, 7_000},
		{"below one unit", 99_999_999, -8, 0},
		{"negative mantissa truncates toward zero", -2_599_999_999, -8, -25},
		{"exponent past int64 range", math.MaxInt64, -19, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fpmath.NormalizePrice(tc.mantissa, tc.exponent)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Int64())
		})
	}
}

func TestNormalizePriceExponentBound(t *testing.T) {
	got, err := fpmath.NormalizePrice(math.MaxInt64, fpmath.MaxPriceExponent)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Sign())
	assert.LessOrEqual(t, got.BitLen(), 127)

	_, err = fpmath.NormalizePrice(1, fpmath.MaxPriceExponent+1)
	assert.True(t, errors.Is(err, fpmath.ErrPriceExponentOutOfRange))
}

func TestNormalizePriceUint64(t *testing.T) {
	p, err := fpmath.NormalizePriceUint64(2_500_000_000, -8)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), p)

	_, err = fpmath.NormalizePriceUint64(-2_500_000_000, -8)
	assert.ErrorIs(t, err, fpmath.ErrInvalidPrice)

	_, err = fpmath.NormalizePriceUint64(math.MaxInt64, 2)
	assert.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := fpmath.Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	_, err = fpmath.Sub(1, 2)
	assert.ErrorIs(t, err, fpmath.ErrArithmeticUnderflow)

	_, err = fpmath.Mul(math.MaxUint64, 2)
	assert.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	_, err = fpmath.Div(1, 0)
	assert.ErrorIs(t, err, fpmath.ErrDivisionByZero)

	v, err := fpmath.MulDiv(10, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(23), v)

	assert.Equal(t, uint64(3), fpmath.Min(3, 9))
}

func TestCollateralToDebtUnits(t *testing.T) {
	minted, err := fpmath.CollateralToDebtUnits(2_000_000_000, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), minted)

	// 0.5 unit at 25 USD floors to 12.
	minted, err = fpmath.CollateralToDebtUnits(500_000_000, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), minted)

	_, err = fpmath.CollateralToDebtUnits(math.MaxUint64, 2)
	assert.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)
}

func TestDebtUnitsToCollateral(t *testing.T) {
	lamports, err := fpmath.DebtUnitsToCollateral(10, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(400_000_000), lamports)

	lamports, err = fpmath.DebtUnitsToCollateral(1, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(333_333_333), lamports)

	_, err = fpmath.DebtUnitsToCollateral(10, 0)
	assert.ErrorIs(t, err, fpmath.ErrDivisionByZero)
}

func TestConversionRoundTripNeverCreatesValue(t *testing.T) {
	prices := []uint64{1, 3, 7, 25, 149, 9_999}
	amounts := []uint64{0, 1, 999_999_999, 1_000_000_000, 1_234_567_891, 77_000_000_013}

	for _, p := range prices {
		for _, x := range amounts {
			usd, err := fpmath.CollateralToDebtUnits(x, p)
			require.NoError(t, err)
			back, err := fpmath.DebtUnitsToCollateral(usd, p)
			require.NoError(t, err)
			assert.LessOrEqualf(t, back, x, "price=%d amount=%d", p, x)
		}
	}
}
