package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	fpmath "StableLedger/internal/math"
)

var (
	ErrStalePrice         = errors.New("stable: stale oracle price")
	ErrOracleFeedMismatch = errors.New("stable: oracle feed mismatch")
	ErrNoQuote            = errors.New("stable: no quote for feed")
)

// DefaultMaxAge is the freshness bound applied by every operation.
const DefaultMaxAge = 60 * time.Second

// SOLUSDFeedID is the public SOL/USD price feed.
const SOLUSDFeedID = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

// PriceQuote is one observation of a feed. Price = Mantissa * 10^Exponent.
type PriceQuote struct {
	FeedID     string    `json:"feed_id"`
	Mantissa   int64     `json:"price"`
	Exponent   int32     `json:"expo"`
	Confidence uint64    `json:"conf"`
	ObservedAt time.Time `json:"observed_at"`
	Sequence   int64     `json:"sequence,omitempty"`
}

// Normalized returns the integer USD price per whole collateral unit.
func (q PriceQuote) Normalized() (uint64, error) {
	return fpmath.NormalizePriceUint64(q.Mantissa, q.Exponent)
}

// PriceOracle fetches the latest quote for a feed.
type PriceOracle interface {
	Fetch(ctx context.Context, feedID string) (PriceQuote, error)
}

// NormalizeFeedID lowercases an id and strips a 0x prefix.
func NormalizeFeedID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "0x")
}

// Validate checks that q belongs to feedID and that it is no older than
// maxAge at now. Quotes from the future relative to now are accepted.
func Validate(q PriceQuote, feedID string, now time.Time, maxAge time.Duration) error {
	if NormalizeFeedID(q.FeedID) != NormalizeFeedID(feedID) {
		return fmt.Errorf("%w: got %s, want %s", ErrOracleFeedMismatch, q.FeedID, feedID)
	}
	if age := now.Sub(q.ObservedAt); age > maxAge {
		return fmt.Errorf("%w: quote is %s old, bound is %s", ErrStalePrice, age.Truncate(time.Millisecond), maxAge)
	}
	return nil
}
