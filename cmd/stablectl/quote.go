package main

import (
	"fmt"
	"time"

	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"

	"github.com/spf13/cobra"
)

func quoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "quote",
		Short: "Fetch the live quote from Hermes and check it as the engine would",
		Args:  cobra.NoArgs,
		RunE:  quoteFunc,
	}
}

func quoteFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	client := oracle.NewHermesClient(cfg.Oracle.HermesURL, cfg.Oracle.RPS, cfg.Oracle.Burst, observability.NewLogger("stablectl"))
	q, err := client.Fetch(c.Context(), cfg.Oracle.FeedID)
	if err != nil {
		return fmt.Errorf("fetch quote: %w", err)
	}

	out := c.OutOrStdout()
	fmt.Fprintf(out, "feed:       %s\n", q.FeedID)
	fmt.Fprintf(out, "raw:        %d x 10^%d (conf %d)\n", q.Mantissa, q.Exponent, q.Confidence)
	fmt.Fprintf(out, "published:  %s (%s ago)\n", q.ObservedAt.UTC().Format(time.RFC3339), time.Since(q.ObservedAt).Round(time.Second))

	price, err := q.Normalized()
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	fmt.Fprintf(out, "normalized: %d\n", price)

	if err := oracle.Validate(q, cfg.Oracle.FeedID, time.Now(), cfg.Oracle.MaxAge); err != nil {
		return err
	}
	fmt.Fprintln(out, "fresh:      yes")
	return nil
}
