package reviews

import (
	"context"
	"errors"
	"math"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSampleSize = 10

// SummaryPublisher triggers an on-demand publish when a product has no reviews yet.
type SummaryPublisher interface {
	Publish(ctx context.Context, gtin string, opts PublishOptions) (PublishResult, error)
}

// SummaryConfig describes the dependencies of a SummaryService.
type SummaryConfig struct {
	Database   *gorm.DB
	Resolver   ProductResolver
	Publisher  SummaryPublisher
	Snapshots  *SnapshotCache
	SampleSize int
	AutoFetch  bool
	Logger     *zap.Logger
}

// SummaryService builds the storefront read model from canonical reviews.
type SummaryService struct {
	db         *gorm.DB
	resolver   ProductResolver
	publisher  SummaryPublisher
	snapshots  *SnapshotCache
	sampleSize int
	autoFetch  bool
	logger     *zap.Logger
}

type reviewAggregate struct {
	ReviewCount   int64
	AverageRating *float64
}

// NewSummaryService constructs a SummaryService. Publisher may be nil when
// AutoFetch is disabled.
func NewSummaryService(cfg SummaryConfig) (*SummaryService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opSummaryNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Resolver == nil {
		return nil, newServiceError(opSummaryNew, reasonMissingResolver, errMissingResolver)
	}
	if cfg.AutoFetch && cfg.Publisher == nil {
		return nil, newServiceError(opSummaryNew, reasonMissingPublisher, errMissingPublisher)
	}
	sampleSize := cfg.SampleSize
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		db:         cfg.Database,
		resolver:   cfg.Resolver,
		publisher:  cfg.Publisher,
		snapshots:  cfg.Snapshots,
		sampleSize: sampleSize,
		autoFetch:  cfg.AutoFetch,
		logger:     logger,
	}, nil
}

// GetSummary returns the review summary for gtin, or nil when the product is
// unknown or has no reviews. When nothing is stored and a fallback is supplied,
// one publish run is attempted before giving up.
func (s *SummaryService) GetSummary(ctx context.Context, gtin string, fallback Fallback) (*ReviewSummary, error) {
	normalized, err := catalog.NormalizeGTIN(gtin)
	if err != nil {
		return nil, newServiceError(opGetSummary, reasonInvalidGTIN, err)
	}

	product, err := s.resolver.ResolveGTIN(ctx, normalized)
	if err != nil {
		logError(s.logger, opGetSummary, reasonLookupFailed, err, zap.String(fieldGTIN, normalized))
		return nil, newServiceError(opGetSummary, reasonLookupFailed, err)
	}
	if product == nil {
		return nil, nil
	}

	aggregate, err := s.aggregate(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	if aggregate.ReviewCount == 0 && s.autoFetch && !fallback.Empty() {
		if _, publishErr := s.publisher.Publish(ctx, normalized, PublishOptions{Fallback: fallback}); publishErr != nil {
			if !provider.IsPermanent(publishErr) {
				return nil, newServiceError(opGetSummary, reasonPublishFailed, publishErr)
			}
			s.logger.Warn("on-demand publish rejected by provider",
				zap.String(fieldGTIN, normalized),
				zap.Error(publishErr))
		}
		aggregate, err = s.aggregate(ctx, product.ID)
		if err != nil {
			return nil, err
		}
	}
	if aggregate.ReviewCount == 0 {
		return nil, nil
	}

	var sample []Review
	err = s.db.WithContext(ctx).
		Where(queryProductID, product.ID).
		Order(orderRecentThenHelpful).
		Limit(s.sampleSize).
		Find(&sample).Error
	if err != nil {
		logError(s.logger, opGetSummary, reasonQueryFailed, err, zap.String(fieldProductID, product.ID))
		return nil, newServiceError(opGetSummary, reasonQueryFailed, err)
	}

	summary := &ReviewSummary{
		GTIN:          normalized,
		AverageRating: roundRating(aggregate.AverageRating),
		ReviewCount:   aggregate.ReviewCount,
		Source:        SourceAmazonSerpAPI,
		SourceURL:     s.sourceURL(ctx, normalized),
		Reviews:       make([]SummaryReview, 0, len(sample)),
	}
	for _, review := range sample {
		summary.Reviews = append(summary.Reviews, SummaryReview{
			ExternalID:         review.ExternalID,
			Rating:             review.Rating,
			Title:              review.Title,
			Comment:            review.Comment,
			ReviewerName:       review.ReviewerName,
			IsVerifiedPurchase: review.IsVerifiedPurchase,
			HelpfulCount:       review.HelpfulCount,
			CreatedAt:          review.CreatedAt,
		})
	}
	return summary, nil
}

func (s *SummaryService) aggregate(ctx context.Context, productID string) (reviewAggregate, error) {
	var aggregate reviewAggregate
	err := s.db.WithContext(ctx).
		Model(&Review{}).
		Select("COUNT(*) AS review_count, AVG(rating) AS average_rating").
		Where(queryProductID, productID).
		Scan(&aggregate).Error
	if err != nil {
		logError(s.logger, opGetSummary, reasonQueryFailed, err, zap.String(fieldProductID, productID))
		return reviewAggregate{}, newServiceError(opGetSummary, reasonQueryFailed, err)
	}
	return aggregate, nil
}

func (s *SummaryService) sourceURL(ctx context.Context, gtin string) string {
	if s.snapshots == nil {
		return ""
	}
	snapshot, err := s.snapshots.Lookup(ctx, gtin)
	if err != nil || snapshot == nil {
		if err != nil {
			s.logger.Warn("snapshot lookup failed", zap.String(fieldGTIN, gtin), zap.Error(err))
		}
		return ""
	}
	payload, err := snapshot.Payload()
	if err != nil {
		return ""
	}
	return SourceURL(payload)
}

func roundRating(value *float64) float64 {
	if value == nil {
		return 0
	}
	return math.Round(*value*100) / 100
}

// IsInvalidGTIN reports whether err stems from a malformed GTIN.
func IsInvalidGTIN(err error) bool {
	return errors.Is(err, catalog.ErrInvalidGTIN)
}
