package reviews

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingResolver  = errors.New("product resolver is required")
	errMissingFetcher   = errors.New("review fetcher is required")
	errMissingSnapshots = errors.New("snapshot cache is required")
	errMissingPublisher = errors.New("publisher is required")
	errInvalidMaxAge    = errors.New("max age must be at least one day")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opSnapshotCacheNew = "reviews.snapshot_cache.new"
	opGetOrFetch       = "reviews.snapshot.get_or_fetch"
	opPublisherNew     = "reviews.publisher.new"
	opPublish          = "reviews.publish"
	opSummaryNew       = "reviews.summary.new"
	opGetSummary       = "reviews.summary.get"
	opRefreshAll       = "reviews.refresh_all"
	opStats            = "reviews.stats"
	opClean            = "reviews.clean"
)

const (
	reasonMissingDatabase   = "missing_database"
	reasonMissingResolver   = "missing_resolver"
	reasonMissingFetcher    = "missing_fetcher"
	reasonMissingSnapshots  = "missing_snapshots"
	reasonMissingPublisher  = "missing_publisher"
	reasonInvalidGTIN       = "invalid_gtin"
	reasonLookupFailed      = "lookup_failed"
	reasonFetchFailed       = "fetch_failed"
	reasonProviderRejected  = "provider_rejected"
	reasonEncodeFailed      = "encode_failed"
	reasonDecodeFailed      = "decode_failed"
	reasonSnapshotFailed    = "snapshot_failed"
	reasonUpsertFailed      = "upsert_failed"
	reasonIDFailed          = "id_generation_failed"
	reasonQueryFailed       = "query_failed"
	reasonListFailed        = "list_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonInvalidMaxAge     = "invalid_max_age"
	reasonPublishFailed     = "publish_failed"
	reasonRefreshCancelled  = "cancelled"
	fieldGTIN               = "gtin"
	fieldProductID          = "product_id"
	queryProductExternal    = "product_id = ? AND external_id = ?"
	queryProductID          = "product_id = ?"
	orderRecentThenHelpful  = "created_at DESC, COALESCE(helpful_count, 0) DESC, id ASC"
	anonymousReviewerFilter = "(reviewer_name = '' OR LOWER(reviewer_name) = 'anonymous')"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("reviews pipeline error", attrs...)
}
