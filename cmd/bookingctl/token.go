package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/taxiroutes/internal/auth"
	"github.com/example/taxiroutes/internal/config"
)

func newTokenCmd(load func() config.Config) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a dispatcher bearer token for the booking lookup API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := load().JWTSecret
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := auth.Issue(secret, subject, auth.RoleDispatcher, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dispatcher", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
