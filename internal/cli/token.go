package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/botvisor/internal/auth"
)

func (a *app) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token with the server's JWT secret",
		Long: `Mint a bearer token signed with the shared secret
(BOTCTL_JWT_SECRET or BOTVISOR_JWT_SECRET).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.settings.JWTSecret == "" {
				return errors.New("jwt secret not configured (set BOTVISOR_JWT_SECRET)")
			}
			token, err := auth.New(a.settings.JWTSecret, a.settings.JWTAlgorithm).Issue(subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	mint.Flags().StringVar(&subject, "subject", "botctl", "token subject")
	mint.Flags().StringSliceVar(&scopes, "scope", nil, "token scopes")
	mint.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")

	cmd.AddCommand(mint)
	return cmd
}
