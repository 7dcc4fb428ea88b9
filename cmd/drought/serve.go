package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/drought-severity-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/drought-severity-etl/internal/adapter/kafka"
	"github.com/couchcryptid/drought-severity-etl/internal/config"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/couchcryptid/drought-severity-etl/internal/pipeline"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var skipIncomplete bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume run requests from Kafka and publish merged zone records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg, mergePolicy(skipIncomplete))
		},
	}
	cmd.Flags().BoolVar(&skipIncomplete, "skip-incomplete", false, "drop zones missing from any year instead of failing the merge")
	return cmd
}

func serve(cfg *config.Config, policy domain.MergePolicy) error {
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	b, err := newBackend(cfg, "", logger, metrics)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, b, policy, logger, metrics)
	if err != nil {
		return err
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	requests := kafkaadapter.NewRequestWriter(cfg)

	p := pipeline.New(reader, eng.runner, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, requests, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start drought pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := requests.Close(); err != nil {
		logger.Error("kafka request writer close error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func mergePolicy(skipIncomplete bool) domain.MergePolicy {
	if skipIncomplete {
		return domain.SkipIncomplete
	}
	return domain.RefuseIncomplete
}
