package reviews

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaintenanceConfig describes the dependencies of a Maintenance service.
type MaintenanceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Maintenance reports on and prunes stored reviews.
type Maintenance struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewMaintenance constructs a Maintenance service.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStats, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintenance{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Stats aggregates stored reviews per product, busiest products first.
func (m *Maintenance) Stats(ctx context.Context) ([]ProductStats, error) {
	var stats []ProductStats
	err := m.db.WithContext(ctx).
		Model(&Review{}).
		Select("product_id, gtin, " +
			"COUNT(*) AS review_count, " +
			"AVG(rating) AS average_rating, " +
			"SUM(CASE WHEN is_verified_purchase THEN 1 ELSE 0 END) AS verified_count, " +
			"COALESCE(SUM(helpful_count), 0) AS helpful_total").
		Where("product_id IS NOT NULL").
		Group("product_id, gtin").
		Order("review_count DESC, product_id ASC").
		Scan(&stats).Error
	if err != nil {
		logError(m.logger, opStats, reasonQueryFailed, err)
		return nil, newServiceError(opStats, reasonQueryFailed, err)
	}
	for index := range stats {
		stats[index].AverageRating = math.Round(stats[index].AverageRating*100) / 100
	}
	return stats, nil
}

// Clean deletes unapproved anonymous reviews inserted more than maxAgeDays ago
// and returns the number of rows removed.
func (m *Maintenance) Clean(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays < 1 {
		return 0, newServiceError(opClean, reasonInvalidMaxAge, errInvalidMaxAge)
	}
	cutoff := m.clock().UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	result := m.db.WithContext(ctx).
		Where("is_approved = ? AND inserted_at < ?", false, cutoff).
		Where(anonymousReviewerFilter).
		Delete(&Review{})
	if result.Error != nil {
		logError(m.logger, opClean, reasonDeleteFailed, result.Error)
		return 0, newServiceError(opClean, reasonDeleteFailed, result.Error)
	}
	m.logger.Info("stale anonymous reviews removed",
		zap.Int64("deleted", result.RowsAffected),
		zap.Time("cutoff", cutoff))
	return result.RowsAffected, nil
}
