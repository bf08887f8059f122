package main

import (
	"fmt"
	"time"

	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/spf13/cobra"
)

// newTokenCommand constructs the `token` subcommand, which mints a bearer
// token the API server accepts for --user.
func newTokenCommand(a *app) *cobra.Command {
	var (
		email  string
		expiry time.Duration
	)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := a.identity()
			if err != nil {
				return err
			}
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if expiry <= 0 {
				expiry = cfg.JWTExpiry
			}

			svc := auth.NewService(&auth.Config{
				JWTSecret:   []byte(cfg.JWTSecret),
				TokenExpiry: expiry,
			}, a.logger)
			token, err := svc.GenerateToken(identity.P.ID, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&email, "email", "", "Email claim for the token")
	tokenCmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to JWT_EXPIRY)")
	return tokenCmd
}
