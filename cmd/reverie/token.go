package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/epitome-sim/reverie-core/internal/auth"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
)

// newTokenCmd mints a bearer token signed with the configured secret.
func newTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Print a bearer token for the experiment API",
		Long: `Print an HS256 token for subject, signed with security.jwt.secret.
The subject is recorded in the audit log for every action taken with it.

Example:
  reverie token alice --ttl 24h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set")
			}

			token, err := auth.GenerateToken(args[0], cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
