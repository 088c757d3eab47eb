package main

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/example/taxiroutes/internal/booking/repository"
	"github.com/example/taxiroutes/internal/config"
)

func newMigrateCmd(load func() config.Config) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = load().PostgresDSN
			}
			if dsn == "" {
				return errors.New("no database: pass --dsn or set POSTGRES_DSN")
			}
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := repository.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string (defaults to POSTGRES_DSN)")
	return cmd
}
