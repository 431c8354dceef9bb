package state

import (
	"StableLedger/internal/ledger"
	"encoding/binary"
)

// Position is one owner's collateral and debt record. Created on first
// deposit, never deleted; a fully repaid empty position is a valid state.
type Position struct {
	Owner              ledger.Principal `json:"owner"`
	CollateralLamports uint64           `json:"collateral_lamports"`
	DebtCoins          uint64           `json:"debt_coins"`
	Bump               uint8            `json:"bump"` // addressing metadata for the custody layer
	CustodyBump        uint8            `json:"custody_bump"`
	Version            int64            `json:"version"`    // bumped on every committed transition
	CreatedAt          int64            `json:"created_at"` // versioned input timestamp (epoch microseconds)
	UpdatedAt          int64            `json:"updated_at"`
}

// IsEmpty returns true if position holds neither collateral nor debt
func (p *Position) IsEmpty() bool {
	return p.CollateralLamports == 0 && p.DebtCoins == 0
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, p.Owner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.CollateralLamports)
	buf = binary.LittleEndian.AppendUint64(buf, p.DebtCoins)
	buf = append(buf, p.Bump, p.CustodyBump)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Version))
	return buf
}
