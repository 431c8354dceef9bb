package core

import (
	"sync"
)

// SequenceValidator tracks pushed price sequences per feed. Stale and
// duplicate sequences are dropped and gaps are tolerated.
type SequenceValidator struct {
	mu              sync.Mutex
	expectedNextSeq map[string]int64 // feed -> next expected sequence
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
	}
}

// ValidatePriceSequence reports whether the update should be applied and
// whether it skipped ahead of the expected sequence.
func (sv *SequenceValidator) ValidatePriceSequence(feedID string, priceSequence int64) (accept, gap bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	expected, seen := sv.expectedNextSeq[feedID]
	if seen && priceSequence < expected {
		return false, false
	}

	sv.expectedNextSeq[feedID] = priceSequence + 1
	return true, seen && priceSequence > expected
}

// Partitions returns the next expected sequence per feed.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// Restore replaces the per-feed state, used on snapshot restore.
func (sv *SequenceValidator) Restore(next map[string]int64) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.expectedNextSeq = make(map[string]int64, len(next))
	for k, v := range next {
		sv.expectedNextSeq[k] = v
	}
}
