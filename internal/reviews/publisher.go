package reviews

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/metrics"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

var reviewUpdateColumns = []string{
	"gtin",
	"rating",
	"title",
	"comment",
	"reviewer_name",
	"source",
	"is_verified_purchase",
	"is_approved",
	"helpful_count",
	"created_at",
	"updated_at",
}

// ProductResolver maps GTINs onto catalog products.
type ProductResolver interface {
	ResolveGTIN(ctx context.Context, gtin string) (*catalog.Product, error)
}

// ReviewFetcher performs a single provider search.
type ReviewFetcher interface {
	FetchReviews(ctx context.Context, query string) (provider.RawPayload, error)
}

// RetrySettings bounds the provider retry loop.
type RetrySettings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       retry.Sleeper
}

// PublisherConfig describes the dependencies of a Publisher.
type PublisherConfig struct {
	Database   *gorm.DB
	Resolver   ProductResolver
	Fetcher    ReviewFetcher
	Snapshots  *SnapshotCache
	Retry      RetrySettings
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
}

// PublishOptions adjust a single publish run.
type PublishOptions struct {
	Fallback Fallback
	// Force bypasses the raw snapshot freshness window.
	Force bool
}

// Publisher reconciles provider reviews into the canonical review table.
type Publisher struct {
	db         *gorm.DB
	resolver   ProductResolver
	fetcher    ReviewFetcher
	snapshots  *SnapshotCache
	retry      RetrySettings
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

// NewPublisher constructs a Publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opPublisherNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Resolver == nil {
		return nil, newServiceError(opPublisherNew, reasonMissingResolver, errMissingResolver)
	}
	if cfg.Fetcher == nil {
		return nil, newServiceError(opPublisherNew, reasonMissingFetcher, errMissingFetcher)
	}
	if cfg.Snapshots == nil {
		return nil, newServiceError(opPublisherNew, reasonMissingSnapshots, errMissingSnapshots)
	}
	settings := cfg.Retry
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = defaultMaxAttempts
	}
	if settings.BaseDelay < 0 {
		settings.BaseDelay = defaultBaseDelay
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		db:         cfg.Database,
		resolver:   cfg.Resolver,
		fetcher:    cfg.Fetcher,
		snapshots:  cfg.Snapshots,
		retry:      settings,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
		metrics:    cfg.Metrics,
	}, nil
}

// PublishReviewsForGtin publishes provider reviews for a cataloged GTIN.
func (p *Publisher) PublishReviewsForGtin(ctx context.Context, gtin string) (PublishResult, error) {
	return p.Publish(ctx, gtin, PublishOptions{})
}

// PublishWithFallback publishes reviews, searching by name and brand when the GTIN
// search yields nothing.
func (p *Publisher) PublishWithFallback(ctx context.Context, gtin string, fallback Fallback) (PublishResult, error) {
	return p.Publish(ctx, gtin, PublishOptions{Fallback: fallback})
}

// Publish runs one fetch-map-upsert cycle. Unknown GTINs and exhausted transient
// provider failures yield an empty result and no error.
func (p *Publisher) Publish(ctx context.Context, gtin string, opts PublishOptions) (PublishResult, error) {
	normalized, err := catalog.NormalizeGTIN(gtin)
	if err != nil {
		return PublishResult{}, newServiceError(opPublish, reasonInvalidGTIN, err)
	}

	product, err := p.resolver.ResolveGTIN(ctx, normalized)
	if err != nil {
		logError(p.logger, opPublish, reasonLookupFailed, err, zap.String(fieldGTIN, normalized))
		return PublishResult{}, newServiceError(opPublish, reasonLookupFailed, err)
	}
	if product == nil {
		p.logger.Debug("gtin not cataloged, nothing to publish", zap.String(fieldGTIN, normalized))
		return PublishResult{}, nil
	}

	fallback := opts.Fallback
	if fallback.Empty() {
		fallback = Fallback{Name: product.Name, Brand: product.Brand}
	}
	fetch := p.fetchFunc(normalized, fallback)

	var snapshot RawSnapshot
	if opts.Force {
		snapshot, err = p.snapshots.Refresh(ctx, normalized, fetch)
	} else {
		snapshot, err = p.snapshots.GetOrFetch(ctx, normalized, fetch)
	}
	if err != nil {
		return PublishResult{}, p.fetchFailure(normalized, err)
	}

	payload, err := snapshot.Payload()
	if err != nil {
		logError(p.logger, opPublish, reasonDecodeFailed, err, zap.String(fieldGTIN, normalized))
		return PublishResult{}, newServiceError(opPublish, reasonDecodeFailed, err)
	}

	now := p.clock().UTC()
	productID := product.ID
	mapping := MapToReviews(payload, &productID, normalized, now)
	if mapping.Skipped > 0 {
		p.logger.Debug("skipped unmappable review records",
			zap.String(fieldGTIN, normalized),
			zap.Int("skipped", mapping.Skipped))
	}

	result, err := p.upsert(ctx, productID, mapping.Reviews, now)
	if err != nil {
		logError(p.logger, opPublish, reasonUpsertFailed, err,
			zap.String(fieldGTIN, normalized),
			zap.String(fieldProductID, productID))
		return PublishResult{}, newServiceError(opPublish, reasonUpsertFailed, err)
	}

	p.metrics.Published(result.Inserted, result.Updated)
	p.logger.Info("reviews published",
		zap.String(fieldGTIN, normalized),
		zap.String(fieldProductID, productID),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated))
	return result, nil
}

func (p *Publisher) fetchFunc(gtin string, fallback Fallback) FetchFunc {
	return func(ctx context.Context) (provider.RawPayload, error) {
		payload, err := p.search(ctx, provider.BuildQuery(gtin, "", ""))
		if err != nil {
			return nil, err
		}
		if CountRecords(payload) > 0 || fallback.Empty() {
			return payload, nil
		}

		query := provider.BuildQuery("", fallback.Name, fallback.Brand)
		p.logger.Debug("gtin search empty, retrying with name fallback",
			zap.String(fieldGTIN, gtin),
			zap.String("query", query))
		fallbackPayload, err := p.search(ctx, query)
		if err != nil {
			return nil, err
		}
		if CountRecords(fallbackPayload) == 0 {
			return payload, nil
		}
		return fallbackPayload, nil
	}
}

func (p *Publisher) search(ctx context.Context, query string) (provider.RawPayload, error) {
	policy := retry.Policy{
		MaxAttempts: p.retry.MaxAttempts,
		BaseDelay:   p.retry.BaseDelay,
		Sleep:       p.retry.Sleep,
		Logger:      p.logger,
		Operation:   opPublish,
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (provider.RawPayload, error) {
		return p.fetcher.FetchReviews(ctx, query)
	})
}

func (p *Publisher) fetchFailure(gtin string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		p.logger.Warn("provider unavailable, publish skipped",
			zap.String(fieldGTIN, gtin),
			zap.Int("attempts", exhausted.Attempts),
			zap.Error(err))
		return nil
	}
	if provider.IsPermanent(err) {
		logError(p.logger, opPublish, reasonProviderRejected, err, zap.String(fieldGTIN, gtin))
		return newServiceError(opPublish, reasonProviderRejected, err)
	}
	logError(p.logger, opPublish, reasonFetchFailed, err, zap.String(fieldGTIN, gtin))
	return newServiceError(opPublish, reasonFetchFailed, err)
}

func (p *Publisher) upsert(ctx context.Context, productID string, reviews []Review, now time.Time) (PublishResult, error) {
	result := PublishResult{}
	if len(reviews) == 0 {
		return result, nil
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index := range reviews {
			review := reviews[index]
			review.UpdatedAt = now

			var existing Review
			lookupErr := tx.Select("id", "inserted_at").
				Where(queryProductExternal, productID, review.ExternalID).
				Take(&existing).Error
			switch {
			case lookupErr == nil:
				updates := map[string]any{
					"gtin":                 review.GTIN,
					"rating":               review.Rating,
					"title":                review.Title,
					"comment":              review.Comment,
					"reviewer_name":        review.ReviewerName,
					"source":               review.Source,
					"is_verified_purchase": review.IsVerifiedPurchase,
					"is_approved":          review.IsApproved,
					"helpful_count":        review.HelpfulCount,
					"created_at":           review.CreatedAt,
					"updated_at":           review.UpdatedAt,
				}
				if err := tx.Model(&Review{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
					return err
				}
				result.Updated++
			case errors.Is(lookupErr, gorm.ErrRecordNotFound):
				id, err := p.idProvider.NewID()
				if err != nil {
					return newServiceError(opPublish, reasonIDFailed, err)
				}
				review.ID = id
				review.InsertedAt = now
				err = tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "product_id"}, {Name: "external_id"}},
					DoUpdates: clause.AssignmentColumns(reviewUpdateColumns),
				}).Create(&review).Error
				if err != nil {
					return err
				}
				result.Inserted++
			default:
				return lookupErr
			}
		}
		return nil
	})
	if err != nil {
		return PublishResult{}, err
	}
	return result, nil
}

// ErrorCode extracts the stable code from a ServiceError, or "".
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
