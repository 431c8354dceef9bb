package state

import (
	"fmt"
	stdmath "math"

	fpmath "StableLedger/internal/math"
)

const (
	// MaxHealthFactor is reported for a debt-free position.
	MaxHealthFactor uint64 = stdmath.MaxUint64
	// LiquidationHealthFactor is the bound below which a position may be liquidated.
	LiquidationHealthFactor uint64 = 1
)

// HealthStatus buckets a health factor for reporting.
type HealthStatus int32

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusAtRisk               // withdrawals blocked, not yet liquidatable
	HealthStatusLiquidatable
)

func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusAtRisk:
		return "at_risk"
	case HealthStatusLiquidatable:
		return "liquidatable"
	default:
		return "unknown"
	}
}

// HealthFactor returns floor(collateralValueUSD * liqThreshold / debtCoins / BasisPoints),
// or MaxHealthFactor when there is no debt. Every step is checked.
func HealthFactor(debtCoins, collateralValueUSD, liqThreshold uint64) (uint64, error) {
	if debtCoins == 0 {
		return MaxHealthFactor, nil
	}
	weighted, err := fpmath.Mul(collateralValueUSD, liqThreshold)
	if err != nil {
		return 0, fmt.Errorf("health factor: %w", err)
	}
	perDebt, err := fpmath.Div(weighted, debtCoins)
	if err != nil {
		return 0, fmt.Errorf("health factor: %w", err)
	}
	return fpmath.Div(perDebt, BasisPoints)
}

// RiskEngine applies the protocol's risk rules under one Config. It holds
// no state and never mutates a position.
type RiskEngine struct {
	cfg *Config
}

func NewRiskEngine(cfg *Config) *RiskEngine {
	return &RiskEngine{cfg: cfg}
}

// HealthFactor computes a position's health factor at the given collateral value.
func (r *RiskEngine) HealthFactor(debtCoins, collateralValueUSD uint64) (uint64, error) {
	return HealthFactor(debtCoins, collateralValueUSD, r.cfg.LiqThreshold)
}

// CheckDeposit rejects a deposit whose prospective health factor is zero.
func (r *RiskEngine) CheckDeposit(debtCoins, prospectiveValueUSD uint64) (uint64, error) {
	hf, err := r.HealthFactor(debtCoins, prospectiveValueUSD)
	if err != nil {
		return 0, err
	}
	if hf == 0 {
		return hf, fmt.Errorf("%w: deposit leaves health factor %d", ErrHealthFactor, hf)
	}
	return hf, nil
}

// CheckWithdraw requires the post-withdrawal health factor to stay at or
// above MinHealthFactor.
func (r *RiskEngine) CheckWithdraw(newDebt, collateralValueUSD uint64) (uint64, error) {
	hf, err := r.HealthFactor(newDebt, collateralValueUSD)
	if err != nil {
		return 0, err
	}
	if hf < r.cfg.MinHealthFactor {
		return hf, fmt.Errorf("%w: withdrawal leaves health factor %d below minimum %d",
			ErrHealthFactor, hf, r.cfg.MinHealthFactor)
	}
	return hf, nil
}

// CheckLiquidatable requires the current health factor to be below
// LiquidationHealthFactor.
func (r *RiskEngine) CheckLiquidatable(debtCoins, collateralValueUSD uint64) (uint64, error) {
	hf, err := r.HealthFactor(debtCoins, collateralValueUSD)
	if err != nil {
		return 0, err
	}
	if hf >= LiquidationHealthFactor {
		return hf, fmt.Errorf("%w: position is healthy (health factor %d)", ErrHealthFactor, hf)
	}
	return hf, nil
}

// MaxLiquidationAmount caps the collateral seizable in one call:
// floor(CloseFactor * collateralLamports / BasisPoints).
func (r *RiskEngine) MaxLiquidationAmount(collateralLamports uint64) (uint64, error) {
	return fpmath.MulDiv(r.cfg.CloseFactor, collateralLamports, BasisPoints)
}

// LiquidationBonus is the liquidator's incentive on top of the repaid
// equivalent: floor(seizeLamports * LiqBonus / BonusScale).
func (r *RiskEngine) LiquidationBonus(seizeLamports uint64) (uint64, error) {
	return fpmath.MulDiv(seizeLamports, r.cfg.LiqBonus, BonusScale)
}

// SizeLiquidation returns the total collateral to seize for repaying
// seizeLamports worth of debt, or ErrMaxLiquidationAmount if it exceeds
// the close-factor cap.
func (r *RiskEngine) SizeLiquidation(seizeLamports, collateralLamports uint64) (total, bonus uint64, err error) {
	maxLiq, err := r.MaxLiquidationAmount(collateralLamports)
	if err != nil {
		return 0, 0, err
	}
	bonus, err = r.LiquidationBonus(seizeLamports)
	if err != nil {
		return 0, 0, err
	}
	total, err = fpmath.Add(seizeLamports, bonus)
	if err != nil {
		return 0, 0, err
	}
	if total > maxLiq {
		return 0, 0, fmt.Errorf("%w: seize %d exceeds cap %d", ErrMaxLiquidationAmount, total, maxLiq)
	}
	return total, bonus, nil
}

// Status classifies a health factor.
func (r *RiskEngine) Status(hf uint64) HealthStatus {
	switch {
	case hf < LiquidationHealthFactor:
		return HealthStatusLiquidatable
	case hf < r.cfg.MinHealthFactor:
		return HealthStatusAtRisk
	default:
		return HealthStatusHealthy
	}
}
