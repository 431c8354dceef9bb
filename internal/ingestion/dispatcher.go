package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Processor applies one typed event. *core.Engine implements it.
type Processor interface {
	Process(ctx context.Context, evt event.Event) (*core.Result, error)
}

// Dispatcher turns raw inbound messages into engine calls. A message is
// ACKed once its outcome is final: applied, duplicate, rejected by the
// engine, or unparseable. Only transient failures are NAKed.
type Dispatcher struct {
	proc     Processor
	prefixes map[string]string
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewDispatcher(proc Processor, subjects []SubjectConfig, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	prefixes := make(map[string]string, len(subjects))
	for _, cfg := range subjects {
		prefixes[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.EventType
	}
	return &Dispatcher{
		proc:     proc,
		prefixes: prefixes,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run handles raw events with the given number of workers until ctx is
// cancelled or rawChan closes. The engine serializes per position, so
// workers only add parallelism across positions.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawEvent, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case raw, ok := <-rawChan:
					if !ok {
						return
					}
					d.Handle(ctx, raw)
				}
			}
		}()
	}
	wg.Wait()
}

// Handle processes a single raw event and settles its ACK.
func (d *Dispatcher) Handle(ctx context.Context, raw RawEvent) {
	eventType := ResolveEventType(raw.Subject, d.prefixes)
	if eventType == "" {
		d.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		d.count("unknown", "unknown_subject")
		raw.AckFunc()
		return
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
		d.count(eventType, "invalid")
		raw.AckFunc()
		return
	}

	res, err := d.proc.Process(ctx, evt)
	switch {
	case err == nil && res.Duplicate:
		d.count(eventType, "duplicate")
		raw.AckFunc()
	case err == nil:
		d.count(eventType, "applied")
		raw.AckFunc()
	case Retryable(err):
		d.logger.Warn().Err(err).Str("idempotency_key", evt.IdempotencyKey()).Msg("transient failure, redelivering")
		d.count(eventType, "retry")
		raw.NakFunc()
	default:
		d.count(eventType, "rejected")
		raw.AckFunc()
	}
}

func (d *Dispatcher) count(eventType, outcome string) {
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(eventType, outcome).Inc()
	}
}

// ResolveEventType maps a subject to an event type by its longest
// matching prefix. Returns "" when nothing matches.
func ResolveEventType(subject string, prefixes map[string]string) string {
	best, bestLen := "", -1
	for prefix, et := range prefixes {
		if (subject == prefix || strings.HasPrefix(subject, prefix+".")) && len(prefix) > bestLen {
			best, bestLen = et, len(prefix)
		}
	}
	return best
}

// Retryable reports whether a Process error may succeed on redelivery.
// Economic rejections are final; cancellations and oracle outages are not.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch core.RejectReason(err) {
	case "no_quote", "other":
		return true
	}
	return false
}
