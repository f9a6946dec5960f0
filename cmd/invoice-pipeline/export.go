package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func exportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write persisted invoices to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out, _ := cmd.Flags().GetString("out")
			from, err := dateFlag(cmd, "from")
			if err != nil {
				return err
			}
			to, err := dateFlag(cmd, "to")
			if err != nil {
				return err
			}

			db, err := openDB(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer db.Close(a.logger)

			svc := export.NewService(repository.NewInvoiceRepository(db, a.logger), a.logger)
			raw, err := svc.InvoicesXLSX(ctx, from, to)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(raw))
			return nil
		},
	}
	cmd.Flags().String("out", "invoices.xlsx", "output file")
	cmd.Flags().String("from", "", "first issue date, YYYY-MM-DD")
	cmd.Flags().String("to", "", "last issue date, YYYY-MM-DD")
	return cmd
}

func dateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
