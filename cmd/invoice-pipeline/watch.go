package main

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/invoice-pipeline/internal/async"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

func watchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Watch directories and process new documents as they arrive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			initialScan, _ := cmd.Flags().GetBool("initial-scan")
			logger := a.logger

			c, err := buildPipeline(ctx, a.cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close(logger)

			queue := async.NewProcessorQueue(c.pipeline, logger,
				async.WithWorkers(a.cfg.Ingest.Workers),
				async.WithQueueSize(a.cfg.Ingest.QueueSize),
				async.WithProcessTimeout(a.cfg.Ingest.Timeout),
				async.WithResultHandler(func(job async.Job, res pipeline.Result) {
					if res.Kind == pipeline.KindDocumentUnreadable || res.Kind == pipeline.KindExtractionFailed {
						logger.Warn("watch.document_needs_attention", "path", job.Path, "kind", res.Kind)
					}
				}),
			)

			var grpcServer *grpc.Server
			if addr := a.cfg.Server.GRPCAddr; addr != "" {
				lis, err := net.Listen("tcp", addr)
				if err != nil {
					queue.Shutdown(context.Background())
					return err
				}
				grpcServer = grpc.NewServer()
				hs := health.NewServer()
				grpc_health_v1.RegisterHealthServer(grpcServer, hs)
				hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
				reflection.Register(grpcServer)

				logger.Info("health endpoint listening", "addr", addr)
				go func() {
					if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
						logger.Error("gRPC serve error", "error", err)
					}
				}()
			}

			events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
				Roots:       args,
				SkipHidden:  a.cfg.Ingest.SkipHidden,
				InitialScan: initialScan,
				Debounce:    a.cfg.Ingest.Debounce,
			}, logger)
			if err != nil {
				queue.Shutdown(context.Background())
				return err
			}
			go func() {
				for err := range errs {
					logger.Warn("watch.error", "error", err)
				}
			}()

			logger.Info("watching", "roots", args, "workers", a.cfg.Ingest.Workers)
			ferr := ingest.Forward(ctx, events, queue, logger)

			logger.Info("shutting down...")
			if grpcServer != nil {
				grpcServer.GracefulStop()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			queue.Shutdown(shutdownCtx)

			st := c.pipeline.FallbackStats()
			logger.Info("stopped", "processed", st.Processed, "escalated", st.Escalated, "fallback_rate", st.Rate)
			if ferr != nil && !errors.Is(ferr, context.Canceled) {
				return ferr
			}
			return nil
		},
	}
	cmd.Flags().Bool("initial-scan", true, "process documents already present at start")
	cmd.Flags().String("grpc-addr", "", "serve gRPC health checks on this address (e.g. :8080)")
	_ = a.v.BindPFlag("server.grpc_addr", cmd.Flags().Lookup("grpc-addr"))
	return cmd
}
