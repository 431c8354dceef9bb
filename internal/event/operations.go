package event

import (
	"fmt"
	"time"

	"StableLedger/internal/ledger"

	"github.com/google/uuid"
)

func positionPartition(owner ledger.Principal) string {
	return "position:" + owner.String()
}

// DepositMint requests a collateral deposit and the mint it backs.
type DepositMint struct {
	RequestID uuid.UUID        `json:"request_id"`
	Depositor ledger.Principal `json:"depositor"`
	Amount    uint64           `json:"amount"` // lamports
	Timestamp time.Time        `json:"timestamp"`
}

func (d *DepositMint) IdempotencyKey() string { return d.RequestID.String() }
func (d *DepositMint) EventType() EventType   { return EventTypeDepositMint }
func (d *DepositMint) Partition() string      { return positionPartition(d.Depositor) }
func (d *DepositMint) SourceSequence() int64  { return 0 }
func (d *DepositMint) OccurredAt() time.Time  { return d.Timestamp }

// WithdrawBurn requests retiring debt tokens for the matching collateral.
type WithdrawBurn struct {
	RequestID  uuid.UUID        `json:"request_id"`
	Withdrawer ledger.Principal `json:"withdrawer"`
	Amount     uint64           `json:"amount"` // debt-token units
	Timestamp  time.Time        `json:"timestamp"`
}

func (w *WithdrawBurn) IdempotencyKey() string { return w.RequestID.String() }
func (w *WithdrawBurn) EventType() EventType   { return EventTypeWithdrawBurn }
func (w *WithdrawBurn) Partition() string      { return positionPartition(w.Withdrawer) }
func (w *WithdrawBurn) SourceSequence() int64  { return 0 }
func (w *WithdrawBurn) OccurredAt() time.Time  { return w.Timestamp }

// Liquidate requests repaying part of Target's debt in exchange for its
// collateral plus a bonus.
type Liquidate struct {
	RequestID  uuid.UUID        `json:"request_id"`
	Liquidator ledger.Principal `json:"liquidator"`
	Target     ledger.Principal `json:"target"`
	CoinAmount uint64           `json:"coin_amount"` // debt-token units repaid
	Timestamp  time.Time        `json:"timestamp"`
}

func (l *Liquidate) IdempotencyKey() string { return l.RequestID.String() }
func (l *Liquidate) EventType() EventType   { return EventTypeLiquidate }
func (l *Liquidate) Partition() string      { return positionPartition(l.Target) }
func (l *Liquidate) SourceSequence() int64  { return 0 }
func (l *Liquidate) OccurredAt() time.Time  { return l.Timestamp }

// ConfigInitialized creates the protocol config. Accepted once.
type ConfigInitialized struct {
	RequestID       uuid.UUID        `json:"request_id"`
	Caller          ledger.Principal `json:"caller"`
	Authority       ledger.Principal `json:"authority"`
	MintAddress     ledger.Principal `json:"mint_address"`
	LiqThreshold    uint64           `json:"liq_threshold"`
	LiqBonus        uint64           `json:"liq_bonus"`
	MinHealthFactor uint64           `json:"min_health_factor"`
	CloseFactor     uint64           `json:"close_factor"`
	Bump            uint8            `json:"bump"`
	MintBump        uint8            `json:"mint_bump"`
	Timestamp       time.Time        `json:"timestamp"`
}

func (c *ConfigInitialized) IdempotencyKey() string { return c.RequestID.String() }
func (c *ConfigInitialized) EventType() EventType   { return EventTypeConfigInitialized }
func (c *ConfigInitialized) Partition() string      { return PartitionGlobal }
func (c *ConfigInitialized) SourceSequence() int64  { return 0 }
func (c *ConfigInitialized) OccurredAt() time.Time  { return c.Timestamp }

// PriceUpdate is a pushed oracle observation.
type PriceUpdate struct {
	FeedID        string    `json:"feed_id"`
	Mantissa      int64     `json:"price"`
	Exponent      int32     `json:"expo"`
	Confidence    uint64    `json:"conf"`
	PublishTime   time.Time `json:"publish_time"`
	PriceSequence int64     `json:"price_sequence"` // monotonic per feed
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.FeedID, p.PriceSequence)
}
func (p *PriceUpdate) EventType() EventType  { return EventTypePriceUpdate }
func (p *PriceUpdate) Partition() string     { return "price:" + p.FeedID }
func (p *PriceUpdate) SourceSequence() int64 { return p.PriceSequence }
func (p *PriceUpdate) OccurredAt() time.Time { return p.PublishTime }
