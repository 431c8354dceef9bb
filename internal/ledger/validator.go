package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well formed before it is applied.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateCustody checks that a position's recorded collateral matches what
// its custody account holds.
func (v *InvariantValidator) ValidateCustody(owner Principal, collateralLamports uint64) error {
	held := v.tracker.CustodyBalance(owner)
	if held < 0 || uint64(held) != collateralLamports {
		return fmt.Errorf("custody of %s holds %d, position records %d", owner, held, collateralLamports)
	}
	return nil
}

// ValidateSupply checks circulating supply against the sum of position debt.
func (v *InvariantValidator) ValidateSupply(mint Principal, totalDebt uint64) error {
	supply := v.tracker.CirculatingSupply(mint)
	if supply < 0 || uint64(supply) != totalDebt {
		return fmt.Errorf("circulating supply %d does not match total debt %d", supply, totalDebt)
	}
	return nil
}
