package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"hemicycle.org/internal/auth"
	"hemicycle.org/internal/config"
)

func tokenCommand() *cobra.Command {
	var (
		subject string
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for operator endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			tokens, err := auth.NewTokens(cfg.Auth.Secret)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(subject, roles, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject recorded in audit logs")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleOperator}, "roles granted by the token")
	return cmd
}
