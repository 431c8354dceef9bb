// Command stablectl administers a StableLedger deployment: schema
// migrations, config checks, API tokens, live quotes and read-model rebuilds.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"StableLedger/internal/config"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "stablectl",
		Short:         "Administer a StableLedger deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", os.Getenv("STABLE_CONFIG"), "path to the TOML config file")

	root.AddCommand(
		migrateCommand(),
		configCommand(),
		tokenCommand(),
		quoteCommand(),
		projectionsCommand(),
	)
	return root
}

// loadConfig reads the --config file with env overrides applied.
func loadConfig(c *cobra.Command) (config.Config, error) {
	path, err := c.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
