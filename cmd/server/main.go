package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/visgate/control-plane/internal/config"
	"github.com/visgate/control-plane/internal/gateway"
	"github.com/visgate/control-plane/internal/gpu"
	"github.com/visgate/control-plane/internal/hf"
	"github.com/visgate/control-plane/internal/orchestrator"
	"github.com/visgate/control-plane/internal/provider"
	"github.com/visgate/control-plane/internal/store"
	"github.com/visgate/control-plane/pkg/cache"
	"github.com/visgate/control-plane/pkg/database"
	"github.com/visgate/control-plane/pkg/events"
	"github.com/visgate/control-plane/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is optional: it backs the GPU registry override and the VRAM
	// estimate cache. Everything degrades to in-process defaults without it.
	var redisCache *cache.Cache
	if cfg.Redis.Enabled {
		c, err := cache.New(cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, running without registry overrides", zap.Error(err))
		} else {
			redisCache = c
			defer redisCache.Close()
			logger.Info("redis connected",
				zap.String("host", cfg.Redis.Host),
				zap.Int("port", cfg.Redis.Port),
			)
		}
	}

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	provider.Register("runpod", provider.NewRunpod(provider.RunpodConfig{
		GraphQLURL: cfg.Provider.RunpodURL,
		Timeout:    cfg.Provider.RequestTimeout,
		MaxRetries: cfg.Provider.MaxRetries,
	}, logger))
	if cfg.Provider.EnableVastAI {
		provider.Register("vastai", provider.NewVastAI(logger))
	}

	bus := events.NewBus(logger)
	audit := func(_ context.Context, ev events.Event) error {
		logger.Info("deployment lifecycle event",
			zap.String("event_type", string(ev.Type)),
			zap.String("deployment_id", ev.DeploymentID),
			zap.String("status", ev.Status),
		)
		return nil
	}
	for _, et := range []events.EventType{
		events.DeploymentCreated, events.DeploymentReady,
		events.DeploymentFailed, events.DeploymentDeleted,
	} {
		bus.Subscribe(et, audit)
	}

	logRing := store.NewLogRing(cfg.LogStream.MaxEntries, cfg.LogStream.TTL)

	engine := orchestrator.NewEngine(orchestrator.Params{
		Store:    st,
		Secrets:  store.NewSecretCache(time.Hour),
		LogRing:  logRing,
		Registry: gpu.NewLoader(redisCache, logger),
		Hub:      hf.NewClient(hf.Config{BaseURL: cfg.HuggingFace.BaseURL, Timeout: cfg.HuggingFace.Timeout}, redisCache, logger),
		Notifier: orchestrator.NewNotifier(cfg.Webhook, logger),
		Prober:   orchestrator.NewProber(logger),
		Pool:     orchestrator.NewPoolPolicy(cfg.WarmPool, logger),
		Bus:      bus,
		Config:   cfg,
		Logger:   logger,
	})
	if cfg.Internal.QueueURL != "" {
		engine.SetDispatcher(orchestrator.NewQueueDispatcher(
			cfg.Internal.QueueURL, cfg.Internal.BaseURL, cfg.Internal.Secret, engine, logger))
		logger.Info("dispatching orchestration via task queue",
			zap.String("queue_url", cfg.Internal.QueueURL))
	} else {
		engine.SetDispatcher(orchestrator.NewInProcessDispatcher(engine))
	}

	gw := gateway.New(engine, st, logRing, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      gw.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", addr),
			zap.String("store_backend", cfg.Store.Backend),
			zap.String("default_provider", cfg.Provider.Default),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := database.New(cfg.Store.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		pg := store.NewPostgres(db.Pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info("postgres store ready",
			zap.String("host", cfg.Store.Postgres.Host),
			zap.String("database", cfg.Store.Postgres.Database),
		)
		return pg, nil
	default:
		logger.Info("using in-memory store; deployments will not survive restarts")
		return store.NewMemory(), nil
	}
}
