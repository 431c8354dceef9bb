package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event for the event log payload.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode rebuilds an event from its logged type and payload.
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeConfigInitialized:
		evt = &ConfigInitialized{}
	case EventTypeDepositMint:
		evt = &DepositMint{}
	case EventTypeWithdrawBurn:
		evt = &WithdrawBurn{}
	case EventTypeLiquidate:
		evt = &Liquidate{}
	case EventTypePriceUpdate:
		evt = &PriceUpdate{}
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
