package main

import (
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
)

func batchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Process every supported document under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			noProgress, _ := cmd.Flags().GetBool("no-progress")

			c, err := buildPipeline(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer c.Close(a.logger)

			var (
				mu  sync.Mutex
				bar *progressbar.ProgressBar
			)
			if !noProgress {
				bar = progressbar.NewOptions(-1,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("processing invoices"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetWidth(40),
				)
			}

			results, stats, err := ingest.Directory(ctx, c.pipeline, args[0], ingest.Options{
				Workers:      a.cfg.Ingest.Workers,
				SkipHidden:   a.cfg.Ingest.SkipHidden,
				ErrorDir:     a.cfg.Ingest.ErrorDir,
				ProcessedDir: a.cfg.Ingest.ProcessedDir,
				Progress: func(ingest.DocumentResult) {
					if bar == nil {
						return
					}
					mu.Lock()
					_ = bar.Add(1)
					mu.Unlock()
				},
			}, a.logger)
			if bar != nil {
				_ = bar.Finish()
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Result.Err != nil {
					fmt.Fprintf(out, "FAIL\t%s\t%s\t%v\n", r.Path, r.Result.Kind, r.Result.Err)
				}
			}
			fallback := c.pipeline.FallbackStats()
			fmt.Fprintf(out, "scanned=%d matched=%d persisted=%d duplicates=%d failed=%d escalated=%d/%d\n",
				stats.Scanned, stats.Matched, stats.Persisted, stats.Duplicates, stats.Failed,
				fallback.Escalated, fallback.Processed)
			if err != nil {
				return err
			}
			if stats.Failed > 0 {
				return fmt.Errorf("%d documents failed", stats.Failed)
			}
			return nil
		},
	}
	cmd.Flags().Int("workers", 4, "concurrent documents")
	cmd.Flags().String("error-dir", "", "move failed documents here")
	cmd.Flags().String("processed-dir", "", "move processed documents here")
	cmd.Flags().Bool("no-progress", false, "disable the progress bar")
	_ = a.v.BindPFlag("ingest.workers", cmd.Flags().Lookup("workers"))
	_ = a.v.BindPFlag("ingest.error_dir", cmd.Flags().Lookup("error-dir"))
	_ = a.v.BindPFlag("ingest.processed_dir", cmd.Flags().Lookup("processed-dir"))
	return cmd
}
