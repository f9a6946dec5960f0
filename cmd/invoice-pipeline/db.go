package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer db.Close(a.logger)

			if err := repository.Migrate(ctx, db, a.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func dbhealthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dbhealth",
		Short: "Check database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			timeout, _ := cmd.Flags().GetDuration("timeout")
			db, err := openDB(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer db.Close(a.logger)

			if err := db.HealthCheck(ctx, timeout, a.logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "DB OK (%s)\n", a.cfg.Database.Driver)
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Second, "ping timeout")
	return cmd
}
