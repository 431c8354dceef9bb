package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"

	"github.com/rs/zerolog"
)

// ErrChainMismatch means the log does not reproduce its own hash chain.
var ErrChainMismatch = errors.New("stable: event log hash chain mismatch")

const replayBatchSize = 1000

// EventSource reads the event log in sequence order.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
}

// RecoveryStats summarizes one Recover run.
type RecoveryStats struct {
	SnapshotSequence int64 // 0 on cold start
	Replayed         int64
	Sequence         int64 // last sequence after replay
}

// TakeSnapshot captures the engine state and writes it to store. Stores
// that gate on verification are marked at once: the snapshot comes from
// live state, not from a replay.
func TakeSnapshot(ctx context.Context, engine *core.Engine, store SnapshotStore, metrics *observability.Metrics) (*core.SnapshotState, error) {
	snap := engine.CreateSnapshotState()
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := store.SaveSnapshot(ctx, snap.Sequence, snap.StateHash, data); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	if v, ok := store.(verifier); ok {
		if err := v.MarkVerified(ctx, snap.Sequence); err != nil {
			return nil, fmt.Errorf("mark snapshot verified: %w", err)
		}
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotSizeBytes.Set(float64(len(data)))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return snap, nil
}

// Recover restores the newest snapshot (if any) into a fresh engine and
// replays every later event from the log, pricing each against its
// recorded quote. Every replayed event must link to the engine's tip and
// reproduce its stored state hash.
func Recover(
	ctx context.Context,
	engine *core.Engine,
	store SnapshotStore,
	events EventSource,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (RecoveryStats, error) {
	var stats RecoveryStats

	if store != nil {
		data, err := store.LatestSnapshot(ctx)
		if err != nil {
			return stats, err
		}
		if data != nil {
			var snap core.SnapshotState
			if err := json.Unmarshal(data, &snap); err != nil {
				return stats, fmt.Errorf("decode snapshot: %w", err)
			}
			engine.RestoreFromSnapshot(&snap)
			stats.SnapshotSequence = snap.Sequence
			logger.Info().
				Int64("sequence", snap.Sequence).
				Int("positions", len(snap.Positions)).
				Int("idempotency_keys", len(snap.IdempotencyKeys)).
				Msg("restored snapshot")
		}
	}

	start := time.Now()
	replayed, err := ReplayLog(ctx, engine, events, stats.SnapshotSequence+1, func(EventRow) error {
		if metrics != nil {
			metrics.ReplayEventsTotal.Inc()
		}
		return nil
	})
	stats.Replayed = replayed
	if err != nil {
		return stats, err
	}

	stats.Sequence = engine.LastSequence()
	if stats.Replayed > 0 {
		logger.Info().
			Int64("replayed", stats.Replayed).
			Int64("sequence", stats.Sequence).
			Dur("took", time.Since(start)).
			Msg("replayed event log")
	}
	return stats, nil
}

// ReplayLog replays every logged event from sequence from onward, calling
// after once each event has been applied. It returns the replay count.
func ReplayLog(ctx context.Context, engine *core.Engine, events EventSource, from int64, after func(EventRow) error) (int64, error) {
	var n int64
	for events != nil {
		rows, err := events.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return n, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if err := replayRow(ctx, engine, row); err != nil {
				return n, err
			}
			n++
			if after != nil {
				if err := after(row); err != nil {
					return n, fmt.Errorf("after seq %d: %w", row.Sequence, err)
				}
			}
		}
		from = rows[len(rows)-1].Sequence + 1
	}
	return n, nil
}

func replayRow(ctx context.Context, engine *core.Engine, row EventRow) error {
	if want := engine.LastSequence() + 1; row.Sequence != want {
		return fmt.Errorf("%w: log has seq %d, engine expects %d", ErrChainMismatch, row.Sequence, want)
	}
	tip := engine.StateHash()
	if !bytes.Equal(row.PrevHash, tip[:]) {
		return fmt.Errorf("%w: seq %d does not link to tip %x", ErrChainMismatch, row.Sequence, tip[:8])
	}

	evt, err := event.Decode(event.ParseEventType(row.EventType), row.Payload)
	if err != nil {
		return fmt.Errorf("seq %d: %w", row.Sequence, err)
	}

	var quote *oracle.PriceQuote
	if row.Quote != nil {
		quote = &oracle.PriceQuote{}
		if err := json.Unmarshal(row.Quote, quote); err != nil {
			return fmt.Errorf("seq %d: decode quote: %w", row.Sequence, err)
		}
	}

	res, err := engine.Replay(ctx, evt, quote)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", row.Sequence, err)
	}
	if res.Duplicate {
		return fmt.Errorf("%w: seq %d replayed as duplicate", ErrChainMismatch, row.Sequence)
	}

	got := engine.StateHash()
	if !bytes.Equal(row.StateHash, got[:]) {
		return fmt.Errorf("%w: seq %d state hash %x, log has %x", ErrChainMismatch, row.Sequence, got[:8], row.StateHash)
	}
	return nil
}
