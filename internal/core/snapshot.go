package core

import (
	"StableLedger/internal/ledger"
	"StableLedger/internal/state"
)

// SnapshotState is the serializable in-memory state of the engine.
type SnapshotState struct {
	Sequence        int64                      `json:"sequence"` // last committed
	StateHash       [32]byte                   `json:"state_hash"`
	Config          *state.Config              `json:"config,omitempty"`
	Positions       []state.Position           `json:"positions"`
	Balances        map[ledger.AccountKey]int64 `json:"balances"`
	PriceSequences  map[string]int64           `json:"price_sequences"`
	IdempotencyKeys []string                   `json:"idempotency_keys"`
}

// CreateSnapshotState captures a consistent view of the engine. It holds
// the commit lock, so no transition lands halfway through the copy.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	var cfg *state.Config
	if c, err := e.config.Get(); err == nil {
		copied := *c
		cfg = &copied
	}

	return &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		Config:          cfg,
		Positions:       e.positions.All(),
		Balances:        e.tracker.Snapshot(),
		PriceSequences:  e.sequenceValidator.Partitions(),
		IdempotencyKeys: e.idempotency.Keys(),
	}
}

// RestoreFromSnapshot replaces the engine's state. Call before processing
// any event.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	e.config.Restore(snap.Config)
	e.positions.Restore(snap.Positions)
	e.tracker.Restore(snap.Balances)
	e.sequenceValidator.Restore(snap.PriceSequences)
	e.idempotency.Warm(snap.IdempotencyKeys)
}

// WarmLRU loads recent idempotency keys (composite "<type>:<key>").
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.Warm(keys)
}
