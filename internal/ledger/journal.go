package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCollateralIn JournalType = iota
	JournalTypeCollateralOut
	JournalTypeCollateralSeize
	JournalTypeMint
	JournalTypeBurn
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollateralIn:
		return "collateral_in"
	case JournalTypeCollateralOut:
		return "collateral_out"
	case JournalTypeCollateralSeize:
		return "collateral_seize"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   `json:"journal_id"`
	BatchID       uuid.UUID   `json:"batch_id"`
	EventRef      string      `json:"event_ref"`      // Idempotency key of source event
	Sequence      int64       `json:"sequence"`       // Global event sequence
	DebitAccount  AccountKey  `json:"debit_account"`  // balance increases
	CreditAccount AccountKey  `json:"credit_account"` // balance decreases
	AssetID       AssetID     `json:"asset_id"`
	Amount        int64       `json:"amount"` // ALWAYS positive
	JournalType   JournalType `json:"journal_type"`
	Timestamp     int64       `json:"timestamp"` // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID `json:"batch_id"`
	EventRef  string    `json:"event_ref"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
	Journals  []Journal `json:"journals"`
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from credit to debit, so every entry balances on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
