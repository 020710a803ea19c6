package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/praetor-io/praetor/internal/app"
	"github.com/praetor-io/praetor/internal/authz"
	authzhttp "github.com/praetor-io/praetor/internal/authz/http"
	authzpg "github.com/praetor-io/praetor/internal/authz/pg"
	"github.com/praetor-io/praetor/internal/observability"
	"github.com/praetor-io/praetor/internal/platform/cache"
	"github.com/praetor-io/praetor/internal/platform/db"
	"github.com/praetor-io/praetor/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The shared cache layer is optional; without it every check resolves
	// directly, which is slower but correct.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, continuing without shared cache", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	// An invalid dependency graph must keep the service down.
	graph, err := authz.NewDependencyGraph(authz.DefaultDependencies())
	if err != nil {
		logger.Error("build dependency graph", slog.Any("error", err))
		os.Exit(1)
	}

	store := authzpg.NewStore(pool)
	cache := authz.NewCache(redisClient, cfg.CacheSize, cfg.CacheTTL, logger)
	metrics := observability.NewMetrics()

	auditSink := jobs.NewAuditEnqueuer(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := auditSink.Close(); err != nil {
			logger.Warn("audit enqueuer close", slog.Any("error", err))
		}
	}()
	dispatcher := authz.NewAuditDispatcher(auditSink, cfg.AuditQueueSize, logger)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			logger.Warn("audit dispatcher drain incomplete", slog.Any("error", err))
		}
	}()

	resolver := authz.NewResolver(
		authz.DefaultVocabulary(),
		graph,
		store,
		store,
		store,
		cache,
		dispatcher,
		metrics,
		logger,
		authz.ResolverConfig{
			StoreTimeout:     cfg.StoreTimeout,
			BatchConcurrency: cfg.BatchConcurrency,
		},
	)

	handler := authzhttp.NewHandler(logger, resolver)
	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthzHandler: handler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("praetor listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
