package ledger

import (
	"errors"
	"fmt"
	"sync"
)

var ErrInsufficientBalance = errors.New("stable: insufficient balance")

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	mu       sync.RWMutex
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyBatch applies all journals in a batch, or none of them. Accounts that
// must stay non-negative are checked against the post-batch balance before
// anything is written.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()

	deltas := make(map[AccountKey]int64, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}

	for key, delta := range deltas {
		next := bt.balances[key] + delta
		if delta > 0 && next < bt.balances[key] {
			return fmt.Errorf("account %s: balance overflow", key.AccountPath())
		}
		if key.MustBeNonNegative() && next < 0 {
			return fmt.Errorf("%w: account %s has %d, batch moves %d",
				ErrInsufficientBalance, key.AccountPath(), bt.balances[key], delta)
		}
	}

	for key, delta := range deltas {
		bt.balances[key] += delta
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.balances[key]
}

// TokenBalance returns the debt tokens held by a principal.
func (bt *BalanceTracker) TokenBalance(owner Principal) int64 {
	return bt.GetBalance(WalletAccount(owner, AssetDebt))
}

// CustodyBalance returns the collateral held in custody for a principal.
func (bt *BalanceTracker) CustodyBalance(owner Principal) int64 {
	return bt.GetBalance(CustodyAccount(owner))
}

// CirculatingSupply returns the debt tokens outstanding for a mint.
func (bt *BalanceTracker) CirculatingSupply(mint Principal) int64 {
	return -bt.GetBalance(MintAccount(mint))
}

// TotalCustody sums collateral across every custody account.
func (bt *BalanceTracker) TotalCustody() int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var total int64
	for key, balance := range bt.balances {
		if key.SubType == SubTypeCustody {
			total += balance
		}
	}
	return total
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	totals := make(map[AssetID]int64)
	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}
	return totals
}

// ValidateNonNegative checks every account that must not go below zero.
func (bt *BalanceTracker) ValidateNonNegative() error {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	for key, balance := range bt.balances {
		if key.MustBeNonNegative() && balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances, used when loading a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
