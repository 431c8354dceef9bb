package core_test

import (
	"errors"
	"testing"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures token and custody effects, optionally failing.
type recorder struct {
	minted, burned  uint64
	in, out         uint64
	paidTo          ledger.Principal
	failBurn        error
	failTransferOut error
}

func (r *recorder) Mint(_ ledger.Principal, amount uint64) error {
	r.minted += amount
	return nil
}

func (r *recorder) Burn(_ ledger.Principal, amount uint64) error {
	if r.failBurn != nil {
		return r.failBurn
	}
	r.burned += amount
	return nil
}

func (r *recorder) TransferIn(_ ledger.Principal, amount uint64) error {
	r.in += amount
	return nil
}

func (r *recorder) TransferOut(to ledger.Principal, amount uint64) error {
	if r.failTransferOut != nil {
		return r.failTransferOut
	}
	r.out += amount
	r.paidTo = to
	return nil
}

func testRisk() *state.RiskEngine {
	return state.NewRiskEngine(&state.Config{
		Authority:       authority,
		MintAddress:     mint,
		LiqThreshold:    5_000,
		LiqBonus:        10_000,
		MinHealthFactor: 1,
		CloseFactor:     5_000,
	})
}

func TestDepositMintOp_Effects(t *testing.T) {
	pos := state.Position{Owner: alice}
	fx := &recorder{}

	got, err := core.DepositMint(&pos, alice, 2_000_000_000, 25, testRisk(), fx, fx)
	require.NoError(t, err)

	assert.Equal(t, uint64(50), got.Minted)
	assert.Equal(t, uint64(2_000_000_000), got.CollateralIn)
	assert.Equal(t, state.MaxHealthFactor, got.HealthFactor)
	assert.Equal(t, uint64(50), fx.minted)
	assert.Equal(t, uint64(2_000_000_000), fx.in)
	assert.Equal(t, uint64(50), pos.DebtCoins)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralLamports)
}

func TestDepositMintOp_DustMintsNothing(t *testing.T) {
	pos := state.Position{Owner: alice}
	fx := &recorder{}

	got, err := core.DepositMint(&pos, alice, 1, 25, testRisk(), fx, fx)
	require.NoError(t, err)
	assert.Zero(t, got.Minted)
	assert.Zero(t, fx.minted)
	assert.Equal(t, uint64(1), pos.CollateralLamports)
}

func TestWithdrawBurnOp_ZeroPriceDividesByZero(t *testing.T) {
	pos := state.Position{Owner: alice, CollateralLamports: 1_000_000_000, DebtCoins: 10}
	fx := &recorder{}

	_, err := core.WithdrawBurn(&pos, alice, 5, 0, testRisk(), fx, fx)
	require.ErrorIs(t, err, fpmath.ErrDivisionByZero)
	assert.Equal(t, uint64(10), pos.DebtCoins)
	assert.Zero(t, fx.burned)
}

func TestWithdrawBurnOp_LeavesPositionOnBurnFailure(t *testing.T) {
	pos := state.Position{Owner: alice, CollateralLamports: 2_000_000_000, DebtCoins: 50}
	fx := &recorder{failBurn: ledger.ErrInsufficientBalance}

	_, err := core.WithdrawBurn(&pos, alice, 50, 25, testRisk(), fx, fx)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, uint64(50), pos.DebtCoins)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralLamports)
}

func TestLiquidateOp_PaysLiquidator(t *testing.T) {
	target := state.Position{Owner: alice, CollateralLamports: 1_000_000_000, DebtCoins: 40}
	fx := &recorder{}

	got, err := core.Liquidate(&target, liquidator, 10, 25, testRisk(), fx, fx)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), fx.burned)
	assert.Equal(t, uint64(440_000_000), fx.out)
	assert.Equal(t, liquidator, fx.paidTo)
	assert.Equal(t, uint64(40_000_000), got.Bonus)
	assert.Zero(t, got.HealthFactor)
	assert.Equal(t, uint64(30), target.DebtCoins)
	assert.Equal(t, uint64(560_000_000), target.CollateralLamports)
}

func TestLiquidateOp_CapRejectsBeforeEffects(t *testing.T) {
	target := state.Position{Owner: alice, CollateralLamports: 1_000_000_000, DebtCoins: 40}
	fx := &recorder{}

	_, err := core.Liquidate(&target, liquidator, 12, 25, testRisk(), fx, fx)
	require.ErrorIs(t, err, state.ErrMaxLiquidationAmount)
	assert.Zero(t, fx.burned)
	assert.Zero(t, fx.out)
	assert.Equal(t, uint64(40), target.DebtCoins)
}

func TestLiquidateOp_SeizeFailureKeepsTarget(t *testing.T) {
	target := state.Position{Owner: alice, CollateralLamports: 1_000_000_000, DebtCoins: 40}
	fx := &recorder{failTransferOut: errors.New("custody offline")}

	_, err := core.Liquidate(&target, liquidator, 10, 25, testRisk(), fx, fx)
	require.Error(t, err)
	assert.Equal(t, uint64(40), target.DebtCoins)
	assert.Equal(t, uint64(1_000_000_000), target.CollateralLamports)
}

func TestRejectReason_Labels(t *testing.T) {
	cases := map[error]string{
		state.ErrHealthFactor:         "health_factor",
		state.ErrMaxLiquidationAmount: "max_liquidation_amount",
		fpmath.ErrDivisionByZero:      "division_by_zero",
		ledger.ErrInsufficientBalance: "insufficient_balance",
		errors.New("boom"):            "other",
	}
	for err, want := range cases {
		assert.Equal(t, want, core.RejectReason(err), err.Error())
	}
}
