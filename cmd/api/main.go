package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ratnakart/api/internal/di"
	"github.com/ratnakart/api/internal/platform/config"
	"github.com/ratnakart/api/internal/platform/observability"
	"github.com/ratnakart/api/internal/platform/secrets"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Razorpay.KeySecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Int("count", len(missing.Names())))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build dependency container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	jobCtx, cancelJobs := context.WithCancel(ctx)
	var jobWG sync.WaitGroup
	startStalePaymentPurge(jobCtx, &jobWG, container, logger.Named("payments_purge"))
	startIdempotencyCleanup(jobCtx, &jobWG, container, logger.Named("idempotency_cleanup"))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ratnakart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cancelJobs()
	jobWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// startStalePaymentPurge periodically removes abandoned online orders so that
// their reserved stock cannot linger behind dead payment intents.
func startStalePaymentPurge(ctx context.Context, wg *sync.WaitGroup, container *di.Container, logger *zap.Logger) {
	interval := container.Config.Orders.StalePurgeInterval
	maxAge := container.Config.Orders.StalePaymentMaxAge
	if interval <= 0 || maxAge <= 0 {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := container.Services.Payments.PurgeStalePayments(ctx, time.Now().UTC().Add(-maxAge))
				if err != nil {
					logger.Warn("stale payment purge failed", zap.Error(err))
					continue
				}
				if purged > 0 {
					logger.Info("purged stale pending orders", zap.Int("count", purged))
				}
			}
		}
	}()
}

func startIdempotencyCleanup(ctx context.Context, wg *sync.WaitGroup, container *di.Container, logger *zap.Logger) {
	store := container.Idempotency
	interval := container.Config.Idempotency.CleanupInterval
	batch := container.Config.Idempotency.CleanupBatchSize
	if store == nil || interval <= 0 || batch <= 0 {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.CleanupExpired(ctx, time.Now().UTC(), batch)
				if err != nil {
					logger.Warn("idempotency cleanup failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Debug("idempotency records expired", zap.Int("count", removed))
				}
			}
		}
	}()
}
