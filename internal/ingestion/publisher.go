package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundSubjectPrefix is where committed events are published, followed
// by the event type.
const OutboundSubjectPrefix = "stable.ledger.events"

// OutboundPublisher publishes persisted events to NATS for downstream
// consumers. Publishing happens after the event log commit, so every
// published event is durable.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of a committed event.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Partition      string          `json:"partition"`
	Payload        json.RawMessage `json:"payload"`
	Quote          json.RawMessage `json:"quote,omitempty"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PublishableFromRow converts a persisted event row.
func PublishableFromRow(row persistence.EventRow) PublishableEvent {
	return PublishableEvent{
		Sequence:       row.Sequence,
		EventType:      row.EventType,
		IdempotencyKey: row.IdempotencyKey,
		Partition:      row.Partition,
		Payload:        json.RawMessage(row.Payload),
		Quote:          json.RawMessage(row.Quote),
		StateHash:      hex.EncodeToString(row.StateHash),
		PrevHash:       hex.EncodeToString(row.PrevHash),
		Timestamp:      row.Timestamp,
	}
}

// Subject returns the outbound subject for evt.
func (evt PublishableEvent) Subject() string {
	return fmt.Sprintf("%s.%s", OutboundSubjectPrefix, evt.EventType)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can read the event log directly.
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The message id lets JetStream drop republished sequences.
	_, err = op.js.Publish(ctx, evt.Subject(), data,
		jetstream.WithMsgID(fmt.Sprintf("stable-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "STABLE_LEDGER_EVENTS",
		Subjects:   []string{OutboundSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "STABLE_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
