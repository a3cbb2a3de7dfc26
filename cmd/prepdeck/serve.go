package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/application/service"
	"github.com/kchenfs/PrepDeck/internal/cache"
	"github.com/kchenfs/PrepDeck/internal/config"
	"github.com/kchenfs/PrepDeck/internal/database"
	"github.com/kchenfs/PrepDeck/internal/httpapi"
	"github.com/kchenfs/PrepDeck/internal/ingest"
	"github.com/kchenfs/PrepDeck/internal/observability"
	"github.com/kchenfs/PrepDeck/internal/queue"
)

func newServeCmd() *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept provider webhooks and serve the order read API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), config.Load().Normalized(), grace)
		},
	}
	cmd.Flags().DurationVar(&grace, "shutdown-grace", 10*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, grace time.Duration) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewPrometheus()

	pool, err := database.Connect(ctx, cfg.DSN(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, cfg.Tables, logger); err != nil {
		return err
	}
	repo := database.NewOrderRepo(pool, cfg.Tables)

	orderCache, err := cache.New(cfg.CacheCap, cfg.CacheTTL)
	if err != nil {
		return err
	}
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	warmed := orderCache.Warm(warmCtx, repo)
	cancel()
	logger.Info("Order cache warmed", zap.Int("orders", warmed))

	writer := queue.NewWriter(cfg.Kafka)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("kafka writer close", zap.Error(err))
		}
	}()
	producer := queue.NewProducer(writer, cfg.Kafka.Topic)

	ingestor := ingest.New(cfg.Webhook.Secret, producer, cfg.Webhook.IngestTimeout, logger.Named("ingest"), metrics)
	svc := service.NewService(orderCache, repo, logger.Named("orders"), metrics)

	srv := httpapi.New(svc, ingestor, logger.Named("http"), metrics,
		httpapi.WithHealth(pool),
		httpapi.WithMetricsHandler(metrics.Handler()),
	)
	return srv.ListenAndServe(ctx, cfg.HTTPAddr, grace)
}
