package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const watermarkID = "main"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ProjectionWorker updates the read models from committed outputs. The
// engine sends on its channel without blocking, so a slow worker drops
// outputs; Rebuild restores the read models from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run applies outputs until ctx is cancelled or the input closes. Outputs
// at or below the stored watermark were applied before and are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope.Sequence <= pw.lastSeq {
				continue
			}

			if err := Apply(ctx, pw.db, output); err != nil {
				// Read models are eventually consistent and can be rebuilt.
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.Inc()
				}
				continue
			}

			pw.lastSeq = output.Envelope.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionApplied.Inc()
				pw.metrics.ProjectionLastSequence.Set(float64(pw.lastSeq))
			}
		}
	}
}

// LoadWatermark returns the last applied sequence, 0 when none.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, watermarkID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// Apply writes one output to the read models in a single transaction.
func Apply(ctx context.Context, db *sql.DB, output core.CoreOutput) error {
	u, err := BuildUpdate(output)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeUpdate(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

func writeUpdate(ctx context.Context, ex execer, u Update) error {
	for _, b := range u.Balances {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path, asset_id)
			DO UPDATE SET balance = projections.balances.balance + EXCLUDED.balance,
			              last_sequence = EXCLUDED.last_sequence
		`, b.AccountPath, int16(b.AssetID), b.Delta, u.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, p := range u.Positions {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.positions (owner, collateral_lamports, debt_coins, bump, custody_bump,
			                                   version, created_at, updated_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (owner) DO UPDATE SET
				collateral_lamports = EXCLUDED.collateral_lamports,
				debt_coins          = EXCLUDED.debt_coins,
				version             = EXCLUDED.version,
				updated_at          = EXCLUDED.updated_at,
				last_sequence       = EXCLUDED.last_sequence
		`, p.Owner.String(), decimal.NewFromUint64(p.CollateralLamports), decimal.NewFromUint64(p.DebtCoins),
			int16(p.Bump), int16(p.CustodyBump), p.Version, p.CreatedAt, p.UpdatedAt, u.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if l := u.Liquidation; l != nil {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.liquidation_history (sequence, target, liquidator, coin_amount,
			                                             seized, bonus, price, health_factor, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (sequence) DO NOTHING
		`, l.Sequence, l.Target.String(), l.Liquidator.String(), decimal.NewFromUint64(l.CoinAmount),
			decimal.NewFromUint64(l.Seized), decimal.NewFromUint64(l.Bonus), decimal.NewFromUint64(l.Price),
			decimal.NewFromUint64(l.HealthFactor), l.Timestamp); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
	}

	if c := u.Config; c != nil {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.config (id, authority, mint_address, liq_threshold, liq_bonus,
			                                min_health_factor, close_factor, last_sequence)
			VALUES (1, $1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, c.Authority.String(), c.MintAddress.String(), decimal.NewFromUint64(c.LiqThreshold),
			decimal.NewFromUint64(c.LiqBonus), decimal.NewFromUint64(c.MinHealthFactor),
			decimal.NewFromUint64(c.CloseFactor), u.Sequence); err != nil {
			return fmt.Errorf("config projection: %w", err)
		}
	}

	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, watermarkID, u.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}
