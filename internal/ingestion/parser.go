package ingestion

import (
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPayload = errors.New("stable: invalid inbound payload")

// ParseRawEvent converts a RawEvent (JSON bytes + event type name) into a
// typed event.Event. Structural checks happen here; economic checks are
// left to the core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch event.ParseEventType(eventType) {
	case event.EventTypeDepositMint:
		return parseDepositMint(raw.Data)
	case event.EventTypeWithdrawBurn:
		return parseWithdrawBurn(raw.Data)
	case event.EventTypeLiquidate:
		return parseLiquidate(raw.Data)
	case event.EventTypePriceUpdate:
		return parsePriceUpdate(raw.Data)
	case event.EventTypeConfigInitialized:
		return parseConfigInitialized(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Principals are base58, timestamps are unix microseconds.

type depositJSON struct {
	RequestID   string           `json:"request_id"`
	Depositor   ledger.Principal `json:"depositor"`
	Amount      uint64           `json:"amount"`
	TimestampUs int64            `json:"timestamp_us"`
}

func parseDepositMint(data []byte) (*event.DepositMint, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositMint: %w", err)
	}
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	if j.Depositor.IsZero() {
		return nil, fmt.Errorf("%w: depositor is required", ErrInvalidPayload)
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.DepositMint{
		RequestID: requestID,
		Depositor: j.Depositor,
		Amount:    j.Amount,
		Timestamp: ts,
	}, nil
}

type withdrawJSON struct {
	RequestID   string           `json:"request_id"`
	Withdrawer  ledger.Principal `json:"withdrawer"`
	Amount      uint64           `json:"amount"`
	TimestampUs int64            `json:"timestamp_us"`
}

func parseWithdrawBurn(data []byte) (*event.WithdrawBurn, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawBurn: %w", err)
	}
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	if j.Withdrawer.IsZero() {
		return nil, fmt.Errorf("%w: withdrawer is required", ErrInvalidPayload)
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.WithdrawBurn{
		RequestID:  requestID,
		Withdrawer: j.Withdrawer,
		Amount:     j.Amount,
		Timestamp:  ts,
	}, nil
}

type liquidateJSON struct {
	RequestID   string           `json:"request_id"`
	Liquidator  ledger.Principal `json:"liquidator"`
	Target      ledger.Principal `json:"target"`
	CoinAmount  uint64           `json:"coin_amount"`
	TimestampUs int64            `json:"timestamp_us"`
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	if j.Liquidator.IsZero() || j.Target.IsZero() {
		return nil, fmt.Errorf("%w: liquidator and target are required", ErrInvalidPayload)
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.Liquidate{
		RequestID:  requestID,
		Liquidator: j.Liquidator,
		Target:     j.Target,
		CoinAmount: j.CoinAmount,
		Timestamp:  ts,
	}, nil
}

type priceJSON struct {
	FeedID        string `json:"feed_id"`
	Price         int64  `json:"price"`
	Expo          int32  `json:"expo"`
	Conf          uint64 `json:"conf"`
	PublishTime   int64  `json:"publish_time"` // unix seconds
	PriceSequence int64  `json:"price_sequence"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	if j.FeedID == "" {
		return nil, fmt.Errorf("%w: feed_id is required", ErrInvalidPayload)
	}
	if j.PublishTime <= 0 {
		return nil, fmt.Errorf("%w: publish_time is required", ErrInvalidPayload)
	}
	seq := j.PriceSequence
	if seq == 0 {
		// Feeds without their own counter are ordered by publish time.
		seq = j.PublishTime
	}
	return &event.PriceUpdate{
		FeedID:        j.FeedID,
		Mantissa:      j.Price,
		Exponent:      j.Expo,
		Confidence:    j.Conf,
		PublishTime:   time.Unix(j.PublishTime, 0).UTC(),
		PriceSequence: seq,
	}, nil
}

type configJSON struct {
	RequestID       string           `json:"request_id"`
	Caller          ledger.Principal `json:"caller"`
	Authority       ledger.Principal `json:"authority"`
	MintAddress     ledger.Principal `json:"mint_address"`
	LiqThreshold    uint64           `json:"liq_threshold"`
	LiqBonus        uint64           `json:"liq_bonus"`
	MinHealthFactor uint64           `json:"min_health_factor"`
	CloseFactor     uint64           `json:"close_factor"`
	Bump            uint8            `json:"bump"`
	MintBump        uint8            `json:"mint_bump"`
	TimestampUs     int64            `json:"timestamp_us"`
}

func parseConfigInitialized(data []byte) (*event.ConfigInitialized, error) {
	var j configJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ConfigInitialized: %w", err)
	}
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	if j.Caller.IsZero() || j.Authority.IsZero() || j.MintAddress.IsZero() {
		return nil, fmt.Errorf("%w: caller, authority and mint_address are required", ErrInvalidPayload)
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.ConfigInitialized{
		RequestID:       requestID,
		Caller:          j.Caller,
		Authority:       j.Authority,
		MintAddress:     j.MintAddress,
		LiqThreshold:    j.LiqThreshold,
		LiqBonus:        j.LiqBonus,
		MinHealthFactor: j.MinHealthFactor,
		CloseFactor:     j.CloseFactor,
		Bump:            j.Bump,
		MintBump:        j.MintBump,
		Timestamp:       ts,
	}, nil
}

func parseRequestID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse request_id: %w", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: request_id is nil", ErrInvalidPayload)
	}
	return id, nil
}

func parseTimestamp(us int64) (time.Time, error) {
	if us <= 0 {
		return time.Time{}, fmt.Errorf("%w: timestamp_us is required", ErrInvalidPayload)
	}
	return time.UnixMicro(us).UTC(), nil
}
