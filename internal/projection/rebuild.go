package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// Rebuild truncates the read models and replays the event log into them
// through a fresh engine built from opts. Each logged event is priced
// against its recorded quote, so no oracle is consulted.
func Rebuild(ctx context.Context, db *sql.DB, events persistence.EventSource, opts core.Options, logger zerolog.Logger) (int64, error) {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.liquidation_history`,
		`TRUNCATE projections.config`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	// One slot is enough: the output is drained after every replayed event.
	outputs := make(chan core.CoreOutput, 1)
	opts.PersistChan = nil
	opts.ProjectionChan = outputs
	opts.DBChecker = nil
	opts.Quotes = nil
	opts.StartSequence = 1
	engine := core.NewEngine(nil, opts)

	start := time.Now()
	n, err := persistence.ReplayLog(ctx, engine, events, 1, func(row persistence.EventRow) error {
		select {
		case output := <-outputs:
			return Apply(ctx, db, output)
		default:
			return fmt.Errorf("no output for seq %d", row.Sequence)
		}
	})
	if err != nil {
		return n, err
	}

	logger.Info().Int64("events", n).Dur("took", time.Since(start)).Msg("projection rebuild complete")
	return n, nil
}
