package ingestion_test

import (
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var (
	alice = ledger.Principal{0x01, 3}
	bob   = ledger.Principal{0x02, 4}
	mint  = ledger.Principal{0xAA, 1}
)

const requestID = "550e8400-e29b-41d4-a716-446655440000"

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDepositMint(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   requestID,
		"depositor":    alice.String(),
		"amount":       uint64(2_000_000_000),
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "DepositMint")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dm, ok := evt.(*event.DepositMint)
	if !ok {
		t.Fatalf("expected *event.DepositMint, got %T", evt)
	}
	if dm.Depositor != alice {
		t.Errorf("depositor: got %s, want %s", dm.Depositor, alice)
	}
	if dm.Amount != 2_000_000_000 {
		t.Errorf("amount: got %d, want 2_000_000_000", dm.Amount)
	}
	if !dm.Timestamp.Equal(time.UnixMicro(1700000000000000)) {
		t.Errorf("timestamp: got %v", dm.Timestamp)
	}
	if dm.IdempotencyKey() != requestID {
		t.Errorf("idempotency key: got %s, want %s", dm.IdempotencyKey(), requestID)
	}
}

func TestParseWithdrawBurn(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   requestID,
		"withdrawer":   bob.String(),
		"amount":       uint64(25),
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "WithdrawBurn")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wb, ok := evt.(*event.WithdrawBurn)
	if !ok {
		t.Fatalf("expected *event.WithdrawBurn, got %T", evt)
	}
	if wb.Withdrawer != bob || wb.Amount != 25 {
		t.Errorf("got %+v", wb)
	}
	if wb.EventType() != event.EventTypeWithdrawBurn {
		t.Errorf("event type: got %v, want WithdrawBurn", wb.EventType())
	}
}

func TestParseLiquidate(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   requestID,
		"liquidator":   bob.String(),
		"target":       alice.String(),
		"coin_amount":  uint64(10),
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Liquidate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lq, ok := evt.(*event.Liquidate)
	if !ok {
		t.Fatalf("expected *event.Liquidate, got %T", evt)
	}
	if lq.Liquidator != bob || lq.Target != alice || lq.CoinAmount != 10 {
		t.Errorf("got %+v", lq)
	}
	if lq.Partition() != "position:"+alice.String() {
		t.Errorf("partition: got %s", lq.Partition())
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"feed_id":        "0xEF0D8B6FDA2CEBA41DA15D4095D1DA392A0D2F8ED0C6C7BC0F4CFAC8C280B56D",
		"price":          int64(2_500_000_000),
		"expo":           int32(-8),
		"conf":           uint64(1_000_000),
		"publish_time":   int64(1700000000),
		"price_sequence": int64(100),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := evt.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", evt)
	}
	if pu.Mantissa != 2_500_000_000 || pu.Exponent != -8 {
		t.Errorf("price: got %d e%d", pu.Mantissa, pu.Exponent)
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
	if pu.PublishTime.Unix() != 1700000000 {
		t.Errorf("publish_time: got %v", pu.PublishTime)
	}
}

func TestParsePriceUpdate_SequenceDefaultsToPublishTime(t *testing.T) {
	payload := map[string]interface{}{
		"feed_id":      "abc",
		"price":        int64(1),
		"expo":         int32(0),
		"publish_time": int64(1700000042),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := evt.(*event.PriceUpdate).PriceSequence; got != 1700000042 {
		t.Errorf("price_sequence: got %d, want 1700000042", got)
	}
}

func TestParseConfigInitialized(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":        requestID,
		"caller":            alice.String(),
		"authority":         alice.String(),
		"mint_address":      mint.String(),
		"liq_threshold":     uint64(5_000),
		"liq_bonus":         uint64(10_000),
		"min_health_factor": uint64(1),
		"close_factor":      uint64(5_000),
		"bump":              255,
		"mint_bump":         254,
		"timestamp_us":      int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "ConfigInitialized")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ci, ok := evt.(*event.ConfigInitialized)
	if !ok {
		t.Fatalf("expected *event.ConfigInitialized, got %T", evt)
	}
	if ci.Authority != alice || ci.MintAddress != mint {
		t.Errorf("principals: got %s / %s", ci.Authority, ci.MintAddress)
	}
	if ci.LiqThreshold != 5_000 || ci.LiqBonus != 10_000 || ci.CloseFactor != 5_000 {
		t.Errorf("params: got %+v", ci)
	}
	if ci.Bump != 255 || ci.MintBump != 254 {
		t.Errorf("bumps: got %d / %d", ci.Bump, ci.MintBump)
	}
}

func TestParse_UnknownType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "TradeFill"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte("{not json")}
	if _, err := ingestion.ParseRawEvent(raw, "DepositMint"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParse_BadPrincipal(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   requestID,
		"depositor":    "not-base58-0OIl",
		"amount":       uint64(1),
		"timestamp_us": int64(1700000000000000),
	}
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "DepositMint")
	if !errors.Is(err, ledger.ErrInvalidPrincipal) {
		t.Errorf("got %v, want ErrInvalidPrincipal", err)
	}
}

func TestParse_MissingFields(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"nil request id": {
			"request_id":   "00000000-0000-0000-0000-000000000000",
			"depositor":    alice.String(),
			"amount":       uint64(1),
			"timestamp_us": int64(1),
		},
		"missing depositor": {
			"request_id":   requestID,
			"amount":       uint64(1),
			"timestamp_us": int64(1),
		},
		"empty depositor": {
			"request_id":   requestID,
			"depositor":    "",
			"amount":       uint64(1),
			"timestamp_us": int64(1),
		},
		"missing timestamp": {
			"request_id": requestID,
			"depositor":  alice.String(),
			"amount":     uint64(1),
		},
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "DepositMint")
			if !errors.Is(err, ingestion.ErrInvalidPayload) {
				t.Errorf("got %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func zeroLogger() zerolog.Logger {
	return zerolog.Nop()
}
