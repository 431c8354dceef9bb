package projection

import (
	"fmt"
	"sort"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/state"
)

// BalanceDelta is the net change of one account within one event.
type BalanceDelta struct {
	AccountPath string
	AssetID     ledger.AssetID
	Delta       int64
}

// LiquidationRecord is one row of liquidation history.
type LiquidationRecord struct {
	Sequence     int64
	Target       ledger.Principal
	Liquidator   ledger.Principal
	CoinAmount   uint64
	Seized       uint64 // lamports paid to the liquidator, bonus included
	Bonus        uint64
	Price        uint64
	HealthFactor uint64
	Timestamp    time.Time
}

// Update is everything one committed event changes in the read models.
type Update struct {
	Sequence    int64
	Balances    []BalanceDelta // sorted by account path
	Positions   []state.Position
	Liquidation *LiquidationRecord
	Config      *state.Config
}

// BuildUpdate derives the read-model changes of one core output. Debits
// add to an account and credits subtract, matching the engine's tracker.
func BuildUpdate(output core.CoreOutput) (Update, error) {
	env := output.Envelope
	u := Update{
		Sequence:  env.Sequence,
		Positions: output.Positions,
		Config:    output.Config,
	}

	if output.Batch != nil {
		type key struct {
			path  string
			asset ledger.AssetID
		}
		net := make(map[key]int64)
		for _, j := range output.Batch.Journals {
			net[key{j.DebitAccount.AccountPath(), j.AssetID}] += j.Amount
			net[key{j.CreditAccount.AccountPath(), j.AssetID}] -= j.Amount
		}
		for k, d := range net {
			u.Balances = append(u.Balances, BalanceDelta{AccountPath: k.path, AssetID: k.asset, Delta: d})
		}
		// Fixed order keeps concurrent rebuilds from deadlocking on row locks.
		sort.Slice(u.Balances, func(i, j int) bool {
			if u.Balances[i].AccountPath != u.Balances[j].AccountPath {
				return u.Balances[i].AccountPath < u.Balances[j].AccountPath
			}
			return u.Balances[i].AssetID < u.Balances[j].AssetID
		})
	}

	if env.EventType == event.EventTypeLiquidate {
		evt, err := event.Decode(env.EventType, env.Payload)
		if err != nil {
			return Update{}, fmt.Errorf("seq %d: %w", env.Sequence, err)
		}
		liq := evt.(*event.Liquidate)
		rec := &LiquidationRecord{
			Sequence:   env.Sequence,
			Target:     liq.Target,
			Liquidator: liq.Liquidator,
			CoinAmount: liq.CoinAmount,
			Timestamp:  env.Timestamp,
		}
		if res := output.Result; res != nil {
			rec.Seized = res.CollateralOut
			rec.Bonus = res.Bonus
			rec.Price = res.Price
			rec.HealthFactor = res.HealthFactor
		}
		u.Liquidation = rec
	}

	return u, nil
}
