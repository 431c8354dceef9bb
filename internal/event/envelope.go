package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeConfigInitialized
	EventTypeDepositMint
	EventTypeWithdrawBurn
	EventTypeLiquidate
	EventTypePriceUpdate
)

// PartitionGlobal is the partition of events that touch no position.
const PartitionGlobal = "global"

// EventEnvelope wraps every committed event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Position the event touched, or PartitionGlobal
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Partition returns the ordering scope of the event
	Partition() string

	// SourceSequence returns the upstream ordering key, 0 when unordered
	SourceSequence() int64

	// OccurredAt is the versioned timestamp the core treats as "now"
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeConfigInitialized:
		return "ConfigInitialized"
	case EventTypeDepositMint:
		return "DepositMint"
	case EventTypeWithdrawBurn:
		return "WithdrawBurn"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	switch s {
	case "ConfigInitialized":
		return EventTypeConfigInitialized
	case "DepositMint":
		return EventTypeDepositMint
	case "WithdrawBurn":
		return EventTypeWithdrawBurn
	case "Liquidate":
		return EventTypeLiquidate
	case "PriceUpdate":
		return EventTypePriceUpdate
	default:
		return EventTypeUnknown
	}
}
