package reviews

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GTINLister enumerates every cataloged GTIN.
type GTINLister interface {
	ListGTINs(ctx context.Context) ([]string, error)
}

// BatchPublisher is the slice of Publisher used by batch jobs.
type BatchPublisher interface {
	Publish(ctx context.Context, gtin string, opts PublishOptions) (PublishResult, error)
}

// RefresherConfig describes the dependencies of a Refresher.
type RefresherConfig struct {
	Catalog   GTINLister
	Publisher BatchPublisher
	ItemDelay time.Duration
	Force     bool
	Logger    *zap.Logger
}

// RefreshReport totals one RefreshAll run.
type RefreshReport struct {
	Processed int
	Inserted  int
	Updated   int
	Failed    int
}

// Refresher republishes every cataloged GTIN sequentially.
type Refresher struct {
	catalog   GTINLister
	publisher BatchPublisher
	itemDelay time.Duration
	force     bool
	logger    *zap.Logger
}

// NewRefresher constructs a Refresher.
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if cfg.Catalog == nil {
		return nil, newServiceError(opRefreshAll, reasonMissingResolver, errMissingResolver)
	}
	if cfg.Publisher == nil {
		return nil, newServiceError(opRefreshAll, reasonMissingPublisher, errMissingPublisher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		catalog:   cfg.Catalog,
		publisher: cfg.Publisher,
		itemDelay: cfg.ItemDelay,
		force:     cfg.Force,
		logger:    logger,
	}, nil
}

// RefreshAll publishes each GTIN in turn, pacing provider traffic by the item
// delay. A failed item is logged and counted; the run continues.
func (r *Refresher) RefreshAll(ctx context.Context) (RefreshReport, error) {
	report := RefreshReport{}
	gtins, err := r.catalog.ListGTINs(ctx)
	if err != nil {
		logError(r.logger, opRefreshAll, reasonListFailed, err)
		return report, newServiceError(opRefreshAll, reasonListFailed, err)
	}

	limit := rate.Inf
	if r.itemDelay > 0 {
		limit = rate.Every(r.itemDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, gtin := range gtins {
		if err := limiter.Wait(ctx); err != nil {
			r.logger.Warn("refresh interrupted",
				zap.Int("processed", report.Processed),
				zap.Int("remaining", len(gtins)-report.Processed),
				zap.Error(err))
			return report, newServiceError(opRefreshAll, reasonRefreshCancelled, err)
		}

		report.Processed++
		result, err := r.publisher.Publish(ctx, gtin, PublishOptions{Force: r.force})
		if err != nil {
			report.Failed++
			logError(r.logger, opRefreshAll, reasonPublishFailed, err, zap.String(fieldGTIN, gtin))
			continue
		}
		report.Inserted += result.Inserted
		report.Updated += result.Updated
		r.logger.Info("gtin refreshed",
			zap.String(fieldGTIN, gtin),
			zap.Int("inserted", result.Inserted),
			zap.Int("updated", result.Updated))
	}

	r.logger.Info("refresh complete",
		zap.Int("processed", report.Processed),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed))
	return report, nil
}
