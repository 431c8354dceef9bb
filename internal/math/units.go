// internal/math/units.go
package math

// LamportsPerUnit is the number of base collateral units in one whole unit.
const LamportsPerUnit uint64 = 1_000_000_000

// CollateralToDebtUnits values a lamport amount in debt-token units:
// floor(lamports * usdPrice / LamportsPerUnit). Rounds down, so collateral
// is never overvalued.
func CollateralToDebtUnits(lamports, usdPrice uint64) (uint64, error) {
	return MulDiv(lamports, usdPrice, LamportsPerUnit)
}

// DebtUnitsToCollateral converts debt-token units back to lamports:
// floor(usdAmount * LamportsPerUnit / usdPrice). A zero price is an oracle
// fault and reports ErrDivisionByZero.
func DebtUnitsToCollateral(usdAmount, usdPrice uint64) (uint64, error) {
	return MulDiv(usdAmount, LamportsPerUnit, usdPrice)
}
