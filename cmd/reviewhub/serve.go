package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/auth"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/config"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/server"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisPingTimeout = 3 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func runServer(ctx context.Context) error {
	appConfig, logger, services, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()    //nolint:errcheck
	defer services.Close() //nolint:errcheck

	summaries, err := reviews.NewSummaryService(reviews.SummaryConfig{
		Database:   services.db,
		Resolver:   services.resolver,
		Publisher:  services.publisher,
		Snapshots:  services.snapshots,
		SampleSize: appConfig.SummarySampleSize,
		AutoFetch:  appConfig.SummaryAutoFetch,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Summaries: summaries,
		Publisher: services.publisher,
		Metrics:   services.metrics,
		Logger:    logger,
	}

	if appConfig.AdminEnabled() {
		tokens, err := auth.NewOperatorTokens(auth.OperatorTokenConfig{
			SigningSecret: []byte(appConfig.AdminSigningSecret),
			TokenTTL:      appConfig.AdminTokenTTL,
		})
		if err != nil {
			return err
		}
		deps.Tokens = tokens
	}

	if appConfig.RedisEnabled() {
		cache, closeCache := newSummaryCache(ctx, appConfig, logger)
		if cache != nil {
			defer closeCache()
			deps.Cache = cache
		}
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newSummaryCache connects to redis. An unreachable redis disables the cache rather
// than failing startup.
func newSummaryCache(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (server.SummaryCache, func()) {
	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, summary cache disabled",
			zap.String("address", appConfig.RedisAddress),
			zap.Error(err))
		_ = client.Close()
		return nil, nil
	}

	cache, err := server.NewRedisSummaryCache(client, time.Hour)
	if err != nil {
		_ = client.Close()
		return nil, nil
	}
	logger.Info("summary cache enabled", zap.String("address", appConfig.RedisAddress))
	return cache, func() { _ = client.Close() }
}
