package main

import (
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/config"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/database"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/logging"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/metrics"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var openDatabase = database.Open

// pipeline bundles the services shared by the HTTP server and the maintenance commands.
type pipeline struct {
	db        *gorm.DB
	metrics   *metrics.Recorder
	resolver  *catalog.Resolver
	snapshots *reviews.SnapshotCache
	publisher *reviews.Publisher
}

func buildPipeline(appConfig config.AppConfig, logger *zap.Logger) (*pipeline, error) {
	db, err := openDatabase(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	services, err := assemblePipeline(db, appConfig, logger)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return services, nil
}

func assemblePipeline(db *gorm.DB, appConfig config.AppConfig, logger *zap.Logger) (*pipeline, error) {
	recorder := metrics.NewRecorder()

	client, err := provider.NewClient(provider.Config{
		APIKey:  appConfig.ProviderAPIKey,
		BaseURL: appConfig.ProviderBaseURL,
		Engine:  appConfig.ProviderEngine,
		Timeout: appConfig.ProviderTimeout,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		return nil, err
	}

	resolver, err := catalog.NewResolver(catalog.ResolverConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	snapshots, err := reviews.NewSnapshotCache(reviews.SnapshotCacheConfig{
		Database:        db,
		FreshnessWindow: appConfig.FreshnessWindow,
		Clock:           time.Now,
		Logger:          logger,
		Metrics:         recorder,
	})
	if err != nil {
		return nil, err
	}

	publisher, err := reviews.NewPublisher(reviews.PublisherConfig{
		Database:  db,
		Resolver:  resolver,
		Fetcher:   client,
		Snapshots: snapshots,
		Retry: reviews.RetrySettings{
			MaxAttempts: appConfig.RetryMaxAttempts,
			BaseDelay:   appConfig.RetryBaseDelay,
		},
		IDProvider: reviews.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
		Metrics:    recorder,
	})
	if err != nil {
		return nil, err
	}

	return &pipeline{
		db:        db,
		metrics:   recorder,
		resolver:  resolver,
		snapshots: snapshots,
		publisher: publisher,
	}, nil
}

func (p *pipeline) Close() error {
	return database.Close(p.db)
}

// loadRuntime parses configuration and builds the logger and pipeline for a command.
func loadRuntime() (config.AppConfig, *zap.Logger, *pipeline, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}
	services, err := buildPipeline(appConfig, logger)
	if err != nil {
		logger.Error("failed to build review pipeline", zap.Error(err))
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, err
	}
	return appConfig, logger, services, nil
}
