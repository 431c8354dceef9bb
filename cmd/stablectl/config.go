package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect the service configuration",
	}
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the config with env overrides and report problems",
		Args:  cobra.NoArgs,
		RunE:  configValidateFunc,
	})
	return c
}

func configValidateFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	out := c.OutOrStdout()
	fmt.Fprintf(out, "feed:      %s (max age %s)\n", cfg.Oracle.FeedID, cfg.Oracle.MaxAge)
	fmt.Fprintf(out, "snapshots: %s every %d events\n", cfg.Snapshot.Store, cfg.Snapshot.Interval)
	fmt.Fprintf(out, "auth:      %t\n", cfg.Auth.Secret != "")
	if p := cfg.Protocol; p != nil {
		fmt.Fprintf(out, "protocol:  authority=%s mint=%s liq_threshold=%d liq_bonus=%d min_hf=%d close_factor=%d\n",
			p.Authority, p.MintAddress, p.LiqThreshold, p.LiqBonus, p.MinHealthFactor, p.CloseFactor)
	} else {
		fmt.Fprintln(out, "protocol:  not set (InitializeConfig must be submitted)")
	}
	fmt.Fprintln(out, "config OK")
	return nil
}
