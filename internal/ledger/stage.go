package ledger

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	fpmath "StableLedger/internal/math"

	"github.com/google/uuid"
)

var ErrZeroTransfer = errors.New("stable: zero-amount effect")

// journalNamespace seeds deterministic journal and batch ids so a replayed
// event produces byte-identical rows.
var journalNamespace = uuid.MustParse("5b0c0f3e-4d1e-4f7a-9a51-2f7c3c1d6e20")

// Stage collects the mint, burn and custody effects of one transition
// without touching balances. Nothing is visible until the batch it builds
// is applied by the BalanceTracker, so dropping a Stage rolls everything back.
type Stage struct {
	mint      Principal
	eventRef  string
	timestamp int64
	tracker   *BalanceTracker
	batchID   uuid.UUID
	journals  []Journal
	deltas    map[AccountKey]int64
}

// NewStage starts a stage for the event identified by eventRef. The tracker
// is only read, to fail fast on burns that cannot be covered.
func NewStage(mint Principal, eventRef string, ts time.Time, tracker *BalanceTracker) *Stage {
	return &Stage{
		mint:      mint,
		eventRef:  eventRef,
		timestamp: ts.UnixMicro(),
		tracker:   tracker,
		batchID:   uuid.NewSHA1(journalNamespace, []byte(eventRef)),
		deltas:    make(map[AccountKey]int64),
	}
}

// Mint issues debt tokens to a principal's wallet.
func (s *Stage) Mint(to Principal, amount uint64) error {
	return s.add(WalletAccount(to, AssetDebt), MintAccount(s.mint), AssetDebt, amount, JournalTypeMint)
}

// Burn retires debt tokens from a principal's wallet.
func (s *Stage) Burn(from Principal, amount uint64) error {
	wallet := WalletAccount(from, AssetDebt)
	if s.tracker != nil {
		available := s.tracker.GetBalance(wallet) + s.deltas[wallet]
		if amount > math.MaxInt64 || available < int64(amount) {
			return fmt.Errorf("%w: burn %d from %s, wallet holds %d",
				ErrInsufficientBalance, amount, from, available)
		}
	}
	return s.add(MintAccount(s.mint), wallet, AssetDebt, amount, JournalTypeBurn)
}

// Custody returns the custody view of one position's collateral account.
func (s *Stage) Custody(owner Principal) *Custody {
	return &Custody{stage: s, owner: owner}
}

// Empty reports whether no effect was staged.
func (s *Stage) Empty() bool {
	return len(s.journals) == 0
}

// Batch seals the staged journals under a global sequence.
func (s *Stage) Batch(sequence int64) *Batch {
	journals := make([]Journal, len(s.journals))
	for i, j := range s.journals {
		j.Sequence = sequence
		journals[i] = j
	}
	return &Batch{
		BatchID:   s.batchID,
		EventRef:  s.eventRef,
		Sequence:  sequence,
		Timestamp: s.timestamp,
		Journals:  journals,
	}
}

func (s *Stage) add(debit, credit AccountKey, asset AssetID, amount uint64, jt JournalType) error {
	if amount == 0 {
		return ErrZeroTransfer
	}
	if amount > math.MaxInt64 {
		return fmt.Errorf("%s of %d: %w", jt, amount, fpmath.ErrArithmeticOverflow)
	}

	idx := len(s.journals)
	s.journals = append(s.journals, Journal{
		JournalID:     uuid.NewSHA1(s.batchID, []byte(strconv.Itoa(idx))),
		BatchID:       s.batchID,
		EventRef:      s.eventRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       asset,
		Amount:        int64(amount),
		JournalType:   jt,
		Timestamp:     s.timestamp,
	})
	s.deltas[debit] += int64(amount)
	s.deltas[credit] -= int64(amount)
	return nil
}

// Custody moves collateral in and out of one position's custody account.
type Custody struct {
	stage *Stage
	owner Principal
}

// TransferIn moves collateral from a depositor into custody.
func (c *Custody) TransferIn(from Principal, amount uint64) error {
	return c.stage.add(CustodyAccount(c.owner), WalletAccount(from, AssetCollateral),
		AssetCollateral, amount, JournalTypeCollateralIn)
}

// TransferOut releases collateral from custody. Paying anyone other than
// the owner is a seizure.
func (c *Custody) TransferOut(to Principal, amount uint64) error {
	jt := JournalTypeCollateralOut
	if to != c.owner {
		jt = JournalTypeCollateralSeize
	}

	custody := CustodyAccount(c.owner)
	if c.stage.tracker != nil {
		held := c.stage.tracker.GetBalance(custody) + c.stage.deltas[custody]
		if amount > math.MaxInt64 || held < int64(amount) {
			return fmt.Errorf("%w: release %d from custody of %s, holds %d",
				ErrInsufficientBalance, amount, c.owner, held)
		}
	}

	return c.stage.add(WalletAccount(to, AssetCollateral), custody,
		AssetCollateral, amount, jt)
}
