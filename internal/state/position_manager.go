package state

import (
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Seeds used to derive the addressing bumps recorded on a position.
const (
	positionSeed = "collateral"
	custodySeed  = "collateral_token_account"
)

// PositionManager owns every Position. Reads are lock-free snapshots;
// a transition on one owner holds that owner's lock from the first read to
// the final Put, so read-check-write sequences never interleave. Different
// owners never contend.
type PositionManager struct {
	mu      sync.RWMutex
	entries map[ledger.Principal]*positionEntry
}

type positionEntry struct {
	mu  sync.Mutex
	pos atomic.Pointer[Position]
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		entries: make(map[ledger.Principal]*positionEntry),
	}
}

func (pm *PositionManager) entry(owner ledger.Principal) *positionEntry {
	pm.mu.RLock()
	e := pm.entries[owner]
	pm.mu.RUnlock()
	if e != nil {
		return e
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if e = pm.entries[owner]; e == nil {
		e = &positionEntry{}
		pm.entries[owner] = e
	}
	return e
}

// Lock serializes transitions on one owner's position and returns the
// matching unlock.
func (pm *PositionManager) Lock(owner ledger.Principal) func() {
	e := pm.entry(owner)
	e.mu.Lock()
	return e.mu.Unlock
}

// Get returns a copy of the owner's position.
func (pm *PositionManager) Get(owner ledger.Principal) (Position, bool) {
	pm.mu.RLock()
	e := pm.entries[owner]
	pm.mu.RUnlock()
	if e == nil {
		return Position{}, false
	}
	p := e.pos.Load()
	if p == nil {
		return Position{}, false
	}
	return *p, true
}

// GetOrNew returns the owner's position, or a fresh empty one that is not
// stored until Put. Callers must hold the owner's lock.
func (pm *PositionManager) GetOrNew(owner ledger.Principal, ts int64) Position {
	if p, ok := pm.Get(owner); ok {
		return p
	}
	return Position{
		Owner:       owner,
		Bump:        deriveBump(positionSeed, owner),
		CustodyBump: deriveBump(custodySeed, owner),
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

// Put stores the committed state of a position. Callers must hold the
// owner's lock.
func (pm *PositionManager) Put(p Position) {
	stored := p
	pm.entry(p.Owner).pos.Store(&stored)
}

// All returns every position ordered by owner.
func (pm *PositionManager) All() []Position {
	pm.mu.RLock()
	out := make([]Position, 0, len(pm.entries))
	for _, e := range pm.entries {
		if p := e.pos.Load(); p != nil {
			out = append(out, *p)
		}
	}
	pm.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0
	})
	return out
}

// Count returns the number of stored positions.
func (pm *PositionManager) Count() int {
	return len(pm.All())
}

// TotalDebt sums DebtCoins across positions.
func (pm *PositionManager) TotalDebt() (uint64, error) {
	var (
		total uint64
		err   error
	)
	for _, p := range pm.All() {
		if total, err = fpmath.Add(total, p.DebtCoins); err != nil {
			return 0, fmt.Errorf("total debt at %s: %w", p.Owner, err)
		}
	}
	return total, nil
}

// Restore replaces all positions, used when loading a snapshot.
func (pm *PositionManager) Restore(positions []Position) {
	pm.mu.Lock()
	pm.entries = make(map[ledger.Principal]*positionEntry, len(positions))
	pm.mu.Unlock()

	for _, p := range positions {
		pm.Put(p)
	}
}

func deriveBump(seed string, owner ledger.Principal) uint8 {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write(owner[:])
	return h.Sum(nil)[0]
}
