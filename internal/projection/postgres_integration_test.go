package projection_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/projection"
	"StableLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertReadModels(ctx context.Context, t *testing.T, db *sql.DB) {
	t.Helper()

	seq, err := projection.LoadWatermark(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	var custody int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account_path = $1`,
		ledger.CustodyAccount(alice).AccountPath(),
	).Scan(&custody))
	assert.Equal(t, int64(560_000_000), custody)

	var debt string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT debt_coins::TEXT FROM projections.positions WHERE owner = $1`, alice.String(),
	).Scan(&debt))
	assert.Equal(t, "30", debt)

	var liquidations int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projections.liquidation_history`).Scan(&liquidations))
	assert.Equal(t, 1, liquidations)

	var authorityText string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT authority FROM projections.config`).Scan(&authorityText))
	assert.Equal(t, authority.String(), authorityText)
}

func TestPostgres_ApplyAndRebuild(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h := newHarness(t)
	outputs := []core.CoreOutput{
		h.deposit(t, alice, 1_000_000_000),
		h.deposit(t, liquidator, 4_000_000_000),
	}
	h.setPrice(25)
	outputs = append(outputs, h.process(t, &event.Liquidate{
		RequestID: uuid.New(), Liquidator: liquidator, Target: alice, CoinAmount: 10, Timestamp: h.tick(),
	}))

	n, err := projection.Rebuild(ctx, db, h.log, core.Options{}, testutil.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assertReadModels(ctx, t, db)

	// Outputs at or below the watermark are skipped by the live worker.
	live := make(chan core.CoreOutput, len(outputs))
	for _, out := range outputs {
		live <- out
	}
	close(live)
	require.NoError(t, projection.NewProjectionWorker(db, live, nil).Run(ctx))
	assertReadModels(ctx, t, db)

	// A second rebuild starts from empty tables and lands in the same place.
	_, err = projection.Rebuild(ctx, db, h.log, core.Options{}, testutil.NopLogger())
	require.NoError(t, err)
	assertReadModels(ctx, t, db)
}
