package main

import (
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/ledger"
	"StableLedger/internal/server"

	"github.com/spf13/cobra"
)

func tokenCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}
	issue := &cobra.Command{
		Use:   "issue <principal>",
		Short: "Sign a bearer token for a base58 principal",
		Args:  cobra.ExactArgs(1),
		RunE:  tokenIssueFunc,
	}
	issue.Flags().String("role", server.RoleUser, "token role: user or admin")
	issue.Flags().Duration("ttl", 0, "token lifetime (default from config)")
	c.AddCommand(issue)
	return c
}

func tokenIssueFunc(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret (or STABLE_JWT_SECRET) is not set")
	}

	principal, err := ledger.ParsePrincipal(args[0])
	if err != nil {
		return err
	}
	role, _ := c.Flags().GetString("role")
	ttl, _ := c.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	auth := server.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	token, err := auth.Issue(principal, role, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.OutOrStdout(), token)
	fmt.Fprintf(c.ErrOrStderr(), "expires %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return nil
}
