package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func processCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process <file>...",
		Short: "Process documents one after another and print the invoice IDs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := buildPipeline(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer c.Close(a.logger)

			failed := 0
			for _, path := range args {
				res := c.pipeline.Run(ctx, path)
				if res.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s\t%s\t%v\n", path, res.Kind, res.Err)
					if ctx.Err() != nil {
						break
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tvalidation=%s escalated=%t\n",
					path, res.InvoiceID, res.Validation, res.Escalated)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
}
