package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/auth"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/metrics"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testGTIN = "0012345678905"

type stubSummaries struct {
	summary   *reviews.ReviewSummary
	err       error
	calls     int
	lastGTIN  string
	lastQuery reviews.Fallback
}

func (s *stubSummaries) GetSummary(_ context.Context, gtin string, fallback reviews.Fallback) (*reviews.ReviewSummary, error) {
	s.calls++
	s.lastGTIN = gtin
	s.lastQuery = fallback
	return s.summary, s.err
}

type stubPublisher struct {
	result   reviews.PublishResult
	err      error
	lastOpts reviews.PublishOptions
	calls    int
}

func (p *stubPublisher) Publish(_ context.Context, _ string, opts reviews.PublishOptions) (reviews.PublishResult, error) {
	p.calls++
	p.lastOpts = opts
	return p.result, p.err
}

func sampleSummary() *reviews.ReviewSummary {
	return &reviews.ReviewSummary{
		GTIN:          testGTIN,
		AverageRating: 4.5,
		ReviewCount:   2,
		Source:        reviews.SourceAmazonSerpAPI,
		Reviews:       []reviews.SummaryReview{{ExternalID: "amazon.com/r/1", Rating: 5, Title: "Great"}},
	}
}

func mustHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func mustOperatorTokens(t *testing.T) *auth.OperatorTokens {
	t.Helper()
	tokens, err := auth.NewOperatorTokens(auth.OperatorTokenConfig{SigningSecret: []byte("operator-secret")})
	if err != nil {
		t.Fatalf("failed to build operator tokens: %v", err)
	}
	return tokens
}

func serve(handler http.Handler, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestNewHTTPHandlerRequiresSummaryService(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected missing summary service to be rejected")
	}
}

func TestGetReviewsReturnsSummaryWithCacheHeaders(t *testing.T) {
	summaries := &stubSummaries{summary: sampleSummary()}
	handler := mustHandler(t, Dependencies{Summaries: summaries})

	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/reviews/0012-345678905?q=Widget&brand=Acme", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Cache-Control"); got != "public, s-maxage=3600, stale-while-revalidate=86400" {
		t.Fatalf("unexpected cache-control %q", got)
	}
	if summaries.lastGTIN != testGTIN {
		t.Fatalf("expected normalized gtin, got %q", summaries.lastGTIN)
	}
	if summaries.lastQuery != (reviews.Fallback{Name: "Widget", Brand: "Acme"}) {
		t.Fatalf("unexpected fallback %#v", summaries.lastQuery)
	}

	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["averageRating"] != 4.5 || body["reviewCount"] != float64(2) || body["source"] != "amazon-serpapi" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestGetReviewsNotFound(t *testing.T) {
	handler := mustHandler(t, Dependencies{Summaries: &stubSummaries{}})
	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/reviews/"+testGTIN, http.NoBody))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"message":"No reviews found"}` {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if recorder.Header().Get("Cache-Control") != "" {
		t.Fatalf("expected no cache header on 404")
	}
}

func TestGetReviewsRejectsMalformedGTIN(t *testing.T) {
	summaries := &stubSummaries{}
	handler := mustHandler(t, Dependencies{Summaries: summaries})
	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/reviews/not-a-gtin", http.NoBody))
	if recorder.Code != http.StatusBadRequest || recorder.Body.String() != `{"error":"invalid_gtin"}` {
		t.Fatalf("unexpected response %d %s", recorder.Code, recorder.Body.String())
	}
	if summaries.calls != 0 {
		t.Fatalf("expected summary service to be skipped")
	}
}

func TestGetReviewsLogsAndHidesServiceFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	summaries := &stubSummaries{err: errors.New("database is locked")}
	handler := mustHandler(t, Dependencies{Summaries: summaries, Logger: zap.New(core)})

	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/reviews/"+testGTIN, http.NoBody))
	if recorder.Code != http.StatusInternalServerError || recorder.Body.String() != `{"error":"summary_failed"}` {
		t.Fatalf("unexpected response %d %s", recorder.Code, recorder.Body.String())
	}
	if logs.FilterMessage("failed to build review summary").Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
	if strings.Contains(recorder.Body.String(), "locked") {
		t.Fatalf("expected internal error to stay out of the response")
	}
}

func TestHealthz(t *testing.T) {
	handler := mustHandler(t, Dependencies{Summaries: &stubSummaries{}})
	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if recorder.Code != http.StatusOK || recorder.Body.String() != `{"status":"ok"}` {
		t.Fatalf("unexpected health response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestMetricsEndpointExposesCollectors(t *testing.T) {
	recorder := metrics.NewRecorder()
	recorder.Published(2, 1)
	handler := mustHandler(t, Dependencies{Summaries: &stubSummaries{}, Metrics: recorder})

	response := serve(handler, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), "reviewhub_reviews_published_total") {
		t.Fatalf("expected published counter in exposition")
	}
}

func TestCORSPreflightAllowsAnyOrigin(t *testing.T) {
	handler := mustHandler(t, Dependencies{Summaries: &stubSummaries{}})
	request := httptest.NewRequest(http.MethodOptions, "/reviews/"+testGTIN, http.NoBody)
	request.Header.Set("Origin", "https://shop.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)

	recorder := serve(handler, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestAdminPublishRequiresOperatorToken(t *testing.T) {
	publisher := &stubPublisher{}
	handler := mustHandler(t, Dependencies{
		Summaries: &stubSummaries{},
		Publisher: publisher,
		Tokens:    mustOperatorTokens(t),
	})

	missing := serve(handler, httptest.NewRequest(http.MethodPost, "/admin/reviews/"+testGTIN+"/publish", http.NoBody))
	if missing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", missing.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/admin/reviews/"+testGTIN+"/publish", http.NoBody)
	request.Header.Set("Authorization", "Bearer forged.token.value")
	if forged := serve(handler, request); forged.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", forged.Code)
	}
	if publisher.calls != 0 {
		t.Fatalf("expected publisher to stay untouched")
	}
}

func TestAdminPublishRunsPublisher(t *testing.T) {
	tokens := mustOperatorTokens(t)
	token, _, err := tokens.Issue("ops")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	publisher := &stubPublisher{result: reviews.PublishResult{Inserted: 3, Updated: 1}}
	handler := mustHandler(t, Dependencies{Summaries: &stubSummaries{}, Publisher: publisher, Tokens: tokens})

	request := httptest.NewRequest(http.MethodPost, "/admin/reviews/"+testGTIN+"/publish", strings.NewReader(`{"name":"Widget","brand":"Acme","force":true}`))
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", "application/json")

	recorder := serve(handler, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != `{"inserted":3,"updated":1}` {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	expected := reviews.PublishOptions{Fallback: reviews.Fallback{Name: "Widget", Brand: "Acme"}, Force: true}
	if publisher.lastOpts != expected {
		t.Fatalf("unexpected publish options %#v", publisher.lastOpts)
	}
}

func TestAdminPublishMapsProviderRejection(t *testing.T) {
	tokens := mustOperatorTokens(t)
	token, _, _ := tokens.Issue("ops")
	publisher := &stubPublisher{err: &provider.Error{Kind: provider.KindPermanent, Err: errors.New("invalid api key")}}
	handler := mustHandler(t, Dependencies{Summaries: &stubSummaries{}, Publisher: publisher, Tokens: tokens})

	request := httptest.NewRequest(http.MethodPost, "/admin/reviews/"+testGTIN+"/publish", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := serve(handler, request)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
}

func TestAdminRoutesDisabledWithoutTokens(t *testing.T) {
	handler := mustHandler(t, Dependencies{Summaries: &stubSummaries{}, Publisher: &stubPublisher{}})
	recorder := serve(handler, httptest.NewRequest(http.MethodPost, "/admin/reviews/"+testGTIN+"/publish", http.NoBody))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected admin routes to be unmounted, got %d", recorder.Code)
	}
}

func TestHandleGetReviewsWithTestContext(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Params = gin.Params{{Key: "gtin", Value: "123"}}
	context.Request = httptest.NewRequest(http.MethodGet, "/reviews/123", http.NoBody)

	handler := &httpHandler{summaries: &stubSummaries{err: catalog.ErrInvalidGTIN}, logger: zap.NewNop()}
	handler.handleGetReviews(context)

	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	expected := `{"error":"invalid_gtin"}`
	if recorder.Body.String() != expected {
		testContext.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}
