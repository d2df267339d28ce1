package catalog

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("catalog: database handle is required")

// ResolverConfig describes the dependencies of a Resolver.
type ResolverConfig struct {
	Database *gorm.DB
	Matcher  *Matcher
	Logger   *zap.Logger
}

// Resolver maps external identifiers onto catalog products.
type Resolver struct {
	db      *gorm.DB
	matcher *Matcher
	logger  *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = NewMatcher(MatcherConfig{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{db: cfg.Database, matcher: matcher, logger: logger}, nil
}

// ResolveGTIN returns the product carrying gtin, or nil when it is not cataloged.
func (r *Resolver) ResolveGTIN(ctx context.Context, gtin string) (*Product, error) {
	normalized, err := NormalizeGTIN(gtin)
	if err != nil {
		return nil, err
	}
	var product Product
	err = r.db.WithContext(ctx).Where("gtin = ?", normalized).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("gtin lookup failed", zap.String("gtin", normalized), zap.Error(err))
		return nil, err
	}
	return &product, nil
}

// ListGTINs returns every cataloged GTIN in ascending order.
func (r *Resolver) ListGTINs(ctx context.Context) ([]string, error) {
	var gtins []string
	err := r.db.WithContext(ctx).
		Model(&Product{}).
		Where("gtin IS NOT NULL AND gtin <> ''").
		Order("gtin ASC").
		Pluck("gtin", &gtins).Error
	if err != nil {
		return nil, err
	}
	return gtins, nil
}

// ResolveSlug finds a product by slug: exact case-insensitive match first, then
// the closest fuzzy candidate above the matcher threshold.
func (r *Resolver) ResolveSlug(ctx context.Context, slug string) (*Product, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, nil
	}

	var product Product
	err := r.db.WithContext(ctx).Where("LOWER(slug) = ?", strings.ToLower(trimmed)).Take(&product).Error
	if err == nil {
		return &product, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var slugs []string
	if err := r.db.WithContext(ctx).Model(&Product{}).Pluck("slug", &slugs).Error; err != nil {
		return nil, err
	}
	match, ok := r.matcher.Match(trimmed, slugs)
	if !ok {
		return nil, nil
	}
	r.logger.Debug("slug resolved by similarity",
		zap.String("slug", trimmed),
		zap.String("candidate", match.Candidate),
		zap.Float64("score", match.Score))

	if err := r.db.WithContext(ctx).Where("slug = ?", match.Candidate).Take(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}
