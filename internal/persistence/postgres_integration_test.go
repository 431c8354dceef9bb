package persistence_test

import (
	"context"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/persistence"
	"StableLedger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_WorkerWritesAndReplays(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	persistCh := make(chan core.CoreOutput, 16)
	live := newEngine(persistCh)
	process(t, live, configEvent())
	process(t, live, deposit(alice, 2_000_000_000, 1))
	close(persistCh)

	worker := persistence.NewPersistenceWorker(db, persistCh, 10, 5*time.Millisecond, nil)
	require.NoError(t, worker.Run(ctx))

	snaps := persistence.NewSnapshotManager(db)
	latest, err := snaps.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate(ctx, "ConfigInitialized", "missing")
	require.NoError(t, err)
	assert.False(t, dup)

	_, err = persistence.TakeSnapshot(ctx, live, snaps, nil)
	require.NoError(t, err)
	data, err := snaps.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.NotNil(t, data)

	replica := newEngine(nil)
	stats, err := persistence.Recover(ctx, replica, nil, snaps, nil, testutil.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Replayed)
	assert.Equal(t, live.StateHash(), replica.StateHash())
}
