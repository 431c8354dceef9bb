package main

import (
	"fmt"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"

	"github.com/spf13/cobra"
)

func projectionsCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "projections",
		Short: "Maintain the Postgres read models",
	}
	c.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Truncate the read models and rebuild them from the event log",
		Long: "Rebuild replays the full event log through a fresh engine. Stop the " +
			"service first: its projection worker writes to the same tables.",
		Args: cobra.NoArgs,
		RunE: projectionsRebuildFunc,
	})
	return c
}

func projectionsRebuildFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDB(c.Context(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := observability.NewLogger("stablectl")
	n, err := projection.Rebuild(c.Context(), db, persistence.NewSnapshotManager(db), core.Options{
		FeedID: cfg.Oracle.FeedID,
		MaxAge: cfg.Oracle.MaxAge,
		Logger: &logger,
	}, logger)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	fmt.Fprintf(c.OutOrStdout(), "rebuilt read models from %d events\n", n)
	return nil
}
