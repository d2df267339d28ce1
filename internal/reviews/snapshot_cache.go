package reviews

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/metrics"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultFreshnessWindow = 24 * time.Hour

// FetchFunc produces a fresh provider payload on a cache miss.
type FetchFunc func(ctx context.Context) (provider.RawPayload, error)

// SnapshotCacheConfig describes the dependencies of a SnapshotCache.
type SnapshotCacheConfig struct {
	Database        *gorm.DB
	FreshnessWindow time.Duration
	Clock           func() time.Time
	Logger          *zap.Logger
	Metrics         *metrics.Recorder
}

// SnapshotCache keeps one raw provider payload per GTIN and serves it while fresh.
type SnapshotCache struct {
	db        *gorm.DB
	freshness time.Duration
	clock     func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Recorder
}

// NewSnapshotCache constructs a SnapshotCache.
func NewSnapshotCache(cfg SnapshotCacheConfig) (*SnapshotCache, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opSnapshotCacheNew, reasonMissingDatabase, errMissingDatabase)
	}
	freshness := cfg.FreshnessWindow
	if freshness <= 0 {
		freshness = defaultFreshnessWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{
		db:        cfg.Database,
		freshness: freshness,
		clock:     clock,
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Lookup returns the stored snapshot for gtin regardless of age, or nil.
func (c *SnapshotCache) Lookup(ctx context.Context, gtin string) (*RawSnapshot, error) {
	var snapshot RawSnapshot
	err := c.db.WithContext(ctx).Where("gtin = ?", gtin).Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetOrFetch returns the stored snapshot when it is younger than the freshness
// window. Otherwise it calls fetch, stores the result and returns it. A failed
// fetch leaves the stored snapshot untouched.
func (c *SnapshotCache) GetOrFetch(ctx context.Context, gtin string, fetch FetchFunc) (RawSnapshot, error) {
	existing, err := c.Lookup(ctx, gtin)
	if err != nil {
		logError(c.logger, opGetOrFetch, reasonQueryFailed, err, zap.String(fieldGTIN, gtin))
		return RawSnapshot{}, newServiceError(opGetOrFetch, reasonQueryFailed, err)
	}
	if existing != nil && c.fresh(*existing) {
		c.metrics.SnapshotLookup(true)
		c.logger.Debug("raw snapshot served from cache",
			zap.String(fieldGTIN, gtin),
			zap.Time("last_fetched_at", existing.LastFetchedAt))
		return *existing, nil
	}
	c.metrics.SnapshotLookup(false)
	return c.Refresh(ctx, gtin, fetch)
}

// Refresh fetches unconditionally and replaces the stored snapshot.
func (c *SnapshotCache) Refresh(ctx context.Context, gtin string, fetch FetchFunc) (RawSnapshot, error) {
	payload, err := fetch(ctx)
	if err != nil {
		return RawSnapshot{}, err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return RawSnapshot{}, newServiceError(opGetOrFetch, reasonEncodeFailed, err)
	}

	snapshot := RawSnapshot{
		GTIN:          gtin,
		RawResponse:   string(encoded),
		LastFetchedAt: c.clock().UTC(),
	}
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gtin"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_response", "last_fetched_at"}),
	}).Create(&snapshot).Error
	if err != nil {
		logError(c.logger, opGetOrFetch, reasonSnapshotFailed, err, zap.String(fieldGTIN, gtin))
		return RawSnapshot{}, newServiceError(opGetOrFetch, reasonSnapshotFailed, err)
	}
	return snapshot, nil
}

func (c *SnapshotCache) fresh(snapshot RawSnapshot) bool {
	return c.clock().Sub(snapshot.LastFetchedAt) < c.freshness
}

// SourceURL pulls the provider's landing page out of a snapshot payload.
func SourceURL(payload provider.RawPayload) string {
	metadata, ok := payload["search_metadata"].(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"amazon_url", "url"} {
		if value, ok := metadata[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
