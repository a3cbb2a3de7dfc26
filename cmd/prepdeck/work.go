package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/config"
	"github.com/kchenfs/PrepDeck/internal/database"
	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/enrich"
	"github.com/kchenfs/PrepDeck/internal/menu"
	"github.com/kchenfs/PrepDeck/internal/observability"
	"github.com/kchenfs/PrepDeck/internal/pkg/circuit"
	"github.com/kchenfs/PrepDeck/internal/provider"
	"github.com/kchenfs/PrepDeck/internal/publisher"
	"github.com/kchenfs/PrepDeck/internal/queue"
	"github.com/kchenfs/PrepDeck/internal/token"
	"github.com/kchenfs/PrepDeck/internal/worker"
)

type workFlags struct {
	metricsAddr string
	partitions  int
	replication int
	migrate     bool
}

func newWorkCmd() *cobra.Command {
	var f workFlags
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Consume queued notifications and run the order pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWork(cmd.Context(), config.Load().Normalized(), f)
		},
	}
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", ":9091", "address for /metrics and /healthz, empty to disable")
	cmd.Flags().IntVar(&f.partitions, "partitions", 0, "partitions for topics created on startup (default: KAFKA_WORKERS)")
	cmd.Flags().IntVar(&f.replication, "replication", 1, "replication factor for topics created on startup")
	cmd.Flags().BoolVar(&f.migrate, "migrate", false, "apply database migrations before consuming")
	return cmd
}

func runWork(ctx context.Context, cfg config.Config, f workFlags) error {
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
	if f.migrate {
		if err := database.Migrate(ctx, pool, cfg.Tables, logger); err != nil {
			return err
		}
	}

	source, err := menuSource(cfg, pool, logger)
	if err != nil {
		return err
	}
	resolver, err := menu.NewResolver(source, cfg.MenuCacheSize, logger.Named("menu"))
	if err != nil {
		return err
	}
	engine := enrich.NewEngine(resolver, logger.Named("enrich"), metrics)

	tokens, closeTokens, err := tokenCache(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer closeTokens()

	orders, err := provider.New(cfg.Provider.APIURL, cfg.Provider.Timeout, nil, logger.Named("provider"))
	if err != nil {
		return err
	}

	pub := publisher.New(
		database.NewOrderRepo(pool, cfg.Tables),
		circuit.New(cfg.Breaker),
		cfg.Publish,
		cfg.Retry,
		nil,
		logger.Named("publisher"),
		metrics,
	)

	w := worker.New(tokens, orders, engine, pub, logger.Named("worker"), metrics)

	partitions := f.partitions
	if partitions <= 0 {
		partitions = cfg.Kafka.Workers
	}
	if err := queue.EnsureTopics(ctx, cfg.Kafka, partitions, f.replication, logger.Named("kafka")); err != nil {
		return err
	}

	writer := queue.NewWriter(cfg.Kafka)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("kafka writer close", zap.Error(err))
		}
	}()

	consumers := queue.NewPool(
		cfg.Kafka.Workers,
		func() queue.Reader { return queue.NewReader(cfg.Kafka) },
		w,
		writer,
		queue.OptionsFrom(cfg.Kafka, cfg.Queue),
		logger.Named("queue"),
	)

	if f.metricsAddr != "" {
		go serveMetrics(ctx, f.metricsAddr, metrics, logger)
	}

	logger.Info("Workers starting",
		zap.Int("workers", cfg.Kafka.Workers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.Group),
	)
	consumers.Start(ctx)
	consumers.Wait()
	logger.Info("Workers stopped")
	return consumers.Close()
}

func menuSource(cfg config.Config, db database.DBTX, logger *zap.Logger) (menu.Source, error) {
	if cfg.MenuFile == "" {
		return database.NewMenuRepo(db, cfg.Tables), nil
	}
	static, err := menu.LoadFile(cfg.MenuFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Menu loaded from file",
		zap.String("path", cfg.MenuFile),
		zap.Int("items", static.Len()),
	)
	return static, nil
}

// tokenCache shares the token through Redis when REDIS_URL is set and falls
// back to a process-local cache otherwise.
func tokenCache(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics observability.Metrics) (*token.Cache, func(), error) {
	exchanger := token.NewClientCredentials(
		cfg.Provider.ClientID,
		cfg.Provider.ClientSecret,
		cfg.Provider.AuthURL,
		cfg.Provider.Scopes,
		&http.Client{Timeout: cfg.Provider.Timeout},
	)
	exchangers := map[string]token.Exchanger{domain.ProviderUberEats: exchanger}
	opts := token.Options{SafetyMargin: cfg.Provider.SafetyMargin}

	if cfg.RedisURL == "" {
		return token.NewCache(exchangers, nil, opts, logger.Named("token"), metrics), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup, token cache will fall back to local", zap.Error(err))
	}

	c := token.NewCache(exchangers, token.NewRedisStore(client), opts, logger.Named("token"), metrics)
	return c, func() { _ = client.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, metrics *observability.Prometheus, logger *zap.Logger) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", zap.Error(err))
	}
}
