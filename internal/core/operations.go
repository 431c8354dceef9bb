package core

import (
	"fmt"

	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/state"
)

// TokenAuthority mints and burns the debt token on the protocol's
// authority. Effects must commit or abort with the enclosing transition.
type TokenAuthority interface {
	Mint(to ledger.Principal, amount uint64) error
	Burn(from ledger.Principal, amount uint64) error
}

// CollateralCustody moves collateral in and out of one position's
// protocol-controlled custody account, all-or-nothing with the transition.
type CollateralCustody interface {
	TransferIn(from ledger.Principal, amount uint64) error
	TransferOut(to ledger.Principal, amount uint64) error
}

var (
	_ TokenAuthority    = (*ledger.Stage)(nil)
	_ CollateralCustody = (*ledger.Custody)(nil)
)

// Effects summarizes what one transition did.
type Effects struct {
	Minted        uint64
	Burned        uint64
	CollateralIn  uint64
	CollateralOut uint64
	Bonus         uint64
	HealthFactor  uint64
}

// DepositMint moves amount lamports into custody and mints their full
// value to the depositor. pos is only updated when every check passes.
func DepositMint(
	pos *state.Position,
	depositor ledger.Principal,
	amount, price uint64,
	risk *state.RiskEngine,
	tokens TokenAuthority,
	custody CollateralCustody,
) (Effects, error) {
	if amount == 0 {
		return Effects{}, state.ErrInvalidAmount
	}

	if err := custody.TransferIn(depositor, amount); err != nil {
		return Effects{}, fmt.Errorf("transfer in: %w", err)
	}

	minted, err := fpmath.CollateralToDebtUnits(amount, price)
	if err != nil {
		return Effects{}, fmt.Errorf("mint amount: %w", err)
	}

	newCollateral, err := fpmath.Add(pos.CollateralLamports, amount)
	if err != nil {
		return Effects{}, fmt.Errorf("collateral: %w", err)
	}
	prospectiveValue, err := fpmath.CollateralToDebtUnits(newCollateral, price)
	if err != nil {
		return Effects{}, fmt.Errorf("collateral value: %w", err)
	}

	hf, err := risk.CheckDeposit(pos.DebtCoins, prospectiveValue)
	if err != nil {
		return Effects{}, err
	}

	newDebt, err := fpmath.Add(pos.DebtCoins, minted)
	if err != nil {
		return Effects{}, fmt.Errorf("debt: %w", err)
	}

	// A deposit worth less than one token unit mints nothing.
	if minted > 0 {
		if err := tokens.Mint(depositor, minted); err != nil {
			return Effects{}, fmt.Errorf("mint: %w", err)
		}
	}

	pos.CollateralLamports = newCollateral
	pos.DebtCoins = newDebt

	return Effects{Minted: minted, CollateralIn: amount, HealthFactor: hf}, nil
}

// WithdrawBurn burns amount debt tokens from the withdrawer and returns
// the equivalent collateral, capped at what the position holds.
func WithdrawBurn(
	pos *state.Position,
	withdrawer ledger.Principal,
	amount, price uint64,
	risk *state.RiskEngine,
	tokens TokenAuthority,
	custody CollateralCustody,
) (Effects, error) {
	if amount == 0 {
		return Effects{}, state.ErrInvalidAmount
	}

	lamportsOut, err := fpmath.DebtUnitsToCollateral(amount, price)
	if err != nil {
		return Effects{}, fmt.Errorf("collateral equivalent: %w", err)
	}

	newDebt, err := fpmath.Sub(pos.DebtCoins, amount)
	if err != nil {
		return Effects{}, fmt.Errorf("withdraw %d against debt %d: %w", amount, pos.DebtCoins, err)
	}

	value, err := fpmath.CollateralToDebtUnits(pos.CollateralLamports, price)
	if err != nil {
		return Effects{}, fmt.Errorf("collateral value: %w", err)
	}

	hf, err := risk.CheckWithdraw(newDebt, value)
	if err != nil {
		return Effects{}, err
	}

	if err := tokens.Burn(withdrawer, amount); err != nil {
		return Effects{}, fmt.Errorf("burn: %w", err)
	}

	transfer := fpmath.Min(lamportsOut, pos.CollateralLamports)
	if transfer > 0 {
		if err := custody.TransferOut(withdrawer, transfer); err != nil {
			return Effects{}, fmt.Errorf("transfer out: %w", err)
		}
	}

	newCollateral, err := fpmath.Sub(pos.CollateralLamports, transfer)
	if err != nil {
		return Effects{}, fmt.Errorf("collateral: %w", err)
	}

	pos.DebtCoins = newDebt
	pos.CollateralLamports = newCollateral

	return Effects{Burned: amount, CollateralOut: transfer, HealthFactor: hf}, nil
}

// Liquidate repays coinAmount of target's debt from the liquidator's tokens
// and pays the liquidator the collateral equivalent plus bonus out of the
// target's custody.
func Liquidate(
	target *state.Position,
	liquidator ledger.Principal,
	coinAmount, price uint64,
	risk *state.RiskEngine,
	tokens TokenAuthority,
	custody CollateralCustody,
) (Effects, error) {
	if coinAmount == 0 {
		return Effects{}, state.ErrInvalidAmount
	}

	value, err := fpmath.CollateralToDebtUnits(target.CollateralLamports, price)
	if err != nil {
		return Effects{}, fmt.Errorf("collateral value: %w", err)
	}

	hf, err := risk.CheckLiquidatable(target.DebtCoins, value)
	if err != nil {
		return Effects{}, err
	}

	seize, err := fpmath.DebtUnitsToCollateral(coinAmount, price)
	if err != nil {
		return Effects{}, fmt.Errorf("seize amount: %w", err)
	}

	total, bonus, err := risk.SizeLiquidation(seize, target.CollateralLamports)
	if err != nil {
		return Effects{}, err
	}

	newDebt, err := fpmath.Sub(target.DebtCoins, coinAmount)
	if err != nil {
		return Effects{}, fmt.Errorf("repay %d against debt %d: %w", coinAmount, target.DebtCoins, err)
	}
	newCollateral, err := fpmath.Sub(target.CollateralLamports, total)
	if err != nil {
		return Effects{}, fmt.Errorf("collateral: %w", err)
	}

	if err := tokens.Burn(liquidator, coinAmount); err != nil {
		return Effects{}, fmt.Errorf("burn: %w", err)
	}
	if total > 0 {
		if err := custody.TransferOut(liquidator, total); err != nil {
			return Effects{}, fmt.Errorf("seize: %w", err)
		}
	}

	target.DebtCoins = newDebt
	target.CollateralLamports = newCollateral

	return Effects{Burned: coinAmount, CollateralOut: total, Bonus: bonus, HealthFactor: hf}, nil
}
