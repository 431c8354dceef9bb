package oracle

import (
	"context"
	"fmt"
	"sync"
)

// StaticOracle serves quotes set by hand. Used by tests and dev mode.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	err    error
}

func NewStaticOracle(quotes ...PriceQuote) *StaticOracle {
	s := &StaticOracle{quotes: make(map[string]PriceQuote)}
	for _, q := range quotes {
		s.Set(q)
	}
	return s
}

// Set replaces the quote for q.FeedID.
func (s *StaticOracle) Set(q PriceQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[NormalizeFeedID(q.FeedID)] = q
}

// Fail makes every Fetch return err until cleared with nil.
func (s *StaticOracle) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticOracle) Fetch(_ context.Context, feedID string) (PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return PriceQuote{}, s.err
	}
	q, ok := s.quotes[NormalizeFeedID(feedID)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrNoQuote, feedID)
	}
	return q, nil
}

// PinnedOracle always returns one recorded quote, whatever feed is asked
// for. Replay uses it so an event sees exactly the price it saw live.
type PinnedOracle struct {
	Quote PriceQuote
}

func (p PinnedOracle) Fetch(context.Context, string) (PriceQuote, error) {
	return p.Quote, nil
}
