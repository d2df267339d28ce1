package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/auth"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/metrics"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	operatorContextKey = "reviewhub_operator"
	summaryCacheHeader = "public, s-maxage=3600, stale-while-revalidate=86400"
)

var errMissingSummaryService = errors.New("summary service dependency required")

// SummaryProvider serves review summaries.
type SummaryProvider interface {
	GetSummary(ctx context.Context, gtin string, fallback reviews.Fallback) (*reviews.ReviewSummary, error)
}

// ReviewPublisher runs on-demand publishes for operators.
type ReviewPublisher interface {
	Publish(ctx context.Context, gtin string, opts reviews.PublishOptions) (reviews.PublishResult, error)
}

// TokenValidator validates operator bearer tokens.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Dependencies wires the HTTP handler. Publisher and Tokens are both required to
// mount the admin routes; Cache and Metrics are optional.
type Dependencies struct {
	Summaries SummaryProvider
	Publisher ReviewPublisher
	Tokens    TokenValidator
	Cache     SummaryCache
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the review endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Summaries == nil {
		return nil, errMissingSummaryService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		summaries: deps.Summaries,
		publisher: deps.Publisher,
		tokens:    deps.Tokens,
		cache:     deps.Cache,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/reviews/:gtin", handler.handleGetReviews)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if deps.Publisher != nil && deps.Tokens != nil {
		admin := router.Group("/admin")
		admin.Use(handler.authorizeOperator)
		admin.POST("/reviews/:gtin/publish", handler.handlePublish)
	} else {
		logger.Info("admin endpoints disabled")
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	summaries SummaryProvider
	publisher ReviewPublisher
	tokens    TokenValidator
	cache     SummaryCache
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleGetReviews(c *gin.Context) {
	gtin, err := catalog.NormalizeGTIN(c.Param("gtin"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_gtin"})
		return
	}
	ctx := c.Request.Context()

	if h.cache != nil {
		cached, found, cacheErr := h.cache.Get(ctx, gtin)
		if cacheErr != nil {
			h.logger.Warn("summary cache read failed", zap.String("gtin", gtin), zap.Error(cacheErr))
		}
		if found {
			c.Header("Cache-Control", summaryCacheHeader)
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	fallback := reviews.Fallback{Name: c.Query("q"), Brand: c.Query("brand")}
	summary, err := h.summaries.GetSummary(ctx, gtin, fallback)
	if err != nil {
		if reviews.IsInvalidGTIN(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_gtin"})
			return
		}
		h.logger.Error("failed to build review summary",
			zap.String("gtin", gtin),
			zap.String("code", reviews.ErrorCode(err)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary_failed"})
		return
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "No reviews found"})
		return
	}

	if h.cache != nil {
		if cacheErr := h.cache.Set(ctx, gtin, summary); cacheErr != nil {
			h.logger.Warn("summary cache write failed", zap.String("gtin", gtin), zap.Error(cacheErr))
		}
	}
	c.Header("Cache-Control", summaryCacheHeader)
	c.JSON(http.StatusOK, summary)
}

type publishRequestPayload struct {
	Name  string `json:"name"`
	Brand string `json:"brand"`
	Force bool   `json:"force"`
}

func (h *httpHandler) handlePublish(c *gin.Context) {
	gtin, err := catalog.NormalizeGTIN(c.Param("gtin"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_gtin"})
		return
	}

	var request publishRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	operator := c.GetString(operatorContextKey)
	result, err := h.publisher.Publish(c.Request.Context(), gtin, reviews.PublishOptions{
		Fallback: reviews.Fallback{Name: request.Name, Brand: request.Brand},
		Force:    request.Force,
	})
	if err != nil {
		code := reviews.ErrorCode(err)
		h.logger.Error("operator publish failed",
			zap.String("gtin", gtin),
			zap.String("operator", operator),
			zap.String("code", code),
			zap.Error(err))
		if provider.IsPermanent(err) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "provider_rejected", "code": code})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish_failed", "code": code})
		return
	}

	if h.cache != nil {
		if cacheErr := h.cache.Invalidate(c.Request.Context(), gtin); cacheErr != nil {
			h.logger.Warn("summary cache invalidation failed", zap.String("gtin", gtin), zap.Error(cacheErr))
		}
	}
	h.logger.Info("operator publish completed",
		zap.String("gtin", gtin),
		zap.String("operator", operator),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated))
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) authorizeOperator(c *gin.Context) {
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("operator token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorContextKey, subject)
	c.Next()
}
