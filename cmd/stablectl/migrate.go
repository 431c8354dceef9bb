package main

import (
	"fmt"
	"text/tabwriter"

	"StableLedger/internal/persistence"
	"StableLedger/migrations"

	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list schema migrations",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  migrateUpFunc,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE:  migrateDownFunc,
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether each is applied",
			Args:  cobra.NoArgs,
			RunE:  migrateStatusFunc,
		},
	)
	return c
}

func newMigrator(c *cobra.Command) (*persistence.Migrator, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(c.Context(), cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	return persistence.NewMigrator(db, migrations.FS), func() { db.Close() }, nil
}

func migrateUpFunc(c *cobra.Command, _ []string) error {
	m, closeDB, err := newMigrator(c)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := m.Up(c.Context())
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	fmt.Fprintf(c.OutOrStdout(), "applied %d migration(s)\n", n)
	return nil
}

func migrateDownFunc(c *cobra.Command, _ []string) error {
	m, closeDB, err := newMigrator(c)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := m.Down(c.Context()); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	fmt.Fprintln(c.OutOrStdout(), "rolled back the last migration")
	return nil
}

func migrateStatusFunc(c *cobra.Command, _ []string) error {
	m, closeDB, err := newMigrator(c)
	if err != nil {
		return err
	}
	defer closeDB()

	statuses, err := m.Status(c.Context())
	if err != nil {
		return fmt.Errorf("migrate status: %w", err)
	}
	tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tAPPLIED\tFILE")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", s.Version, s.Applied, s.Filename)
	}
	return tw.Flush()
}
