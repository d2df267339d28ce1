package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://serpapi.com"
	defaultEngine      = "amazon"
	defaultTimeout     = 20 * time.Second
	defaultBreakerName = "review-provider"
	maxPayloadBytes    = 8 << 20
	maxErrorBodyBytes  = 1 << 10
	searchPath         = "/search.json"
	noResultsMarker    = "returned any results"
)

// RawPayload is the provider response decoded as an opaque JSON object.
type RawPayload map[string]any

// BreakerConfig tunes the circuit breaker in front of the provider.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig trips after half of at least five requests failed transiently.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         defaultBreakerName,
		MaxRequests:  1,
		Interval:     time.Minute,
		OpenTimeout:  30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Config bundles the settings required to build a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	Engine     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    BreakerConfig
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
}

// Client queries the external review-search API.
type Client struct {
	apiKey     string
	baseURL    string
	engine     string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[RawPayload]
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

// NewClient validates configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("provider: invalid base url: %w", err)
	}

	engine := strings.TrimSpace(cfg.Engine)
	if engine == "" {
		engine = defaultEngine
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breakerConfig := cfg.Breaker
	if breakerConfig.Name == "" {
		breakerConfig = DefaultBreakerConfig()
	}

	client := &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		engine:     engine,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
	client.breaker = gobreaker.NewCircuitBreaker[RawPayload](gobreaker.Settings{
		Name:        breakerConfig.Name,
		MaxRequests: breakerConfig.MaxRequests,
		Interval:    breakerConfig.Interval,
		Timeout:     breakerConfig.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerConfig.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerConfig.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("provider circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			client.metrics.BreakerState(name, breakerStateValue(to))
		},
	})
	client.metrics.BreakerState(breakerConfig.Name, 0)

	return client, nil
}

// BuildQuery prefers the GTIN and falls back to "brand name".
func BuildQuery(gtin, name, brand string) string {
	if trimmed := strings.TrimSpace(gtin); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(strings.Join(strings.Fields(brand+" "+name), " "))
}

// FetchReviews performs one provider search. It never retries; callers wrap it in retry.Do.
func (c *Client) FetchReviews(ctx context.Context, query string) (RawPayload, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, permanentError(0, ErrEmptyQuery)
	}

	payload, err := c.breaker.Execute(func() (RawPayload, error) {
		return c.search(ctx, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = transientError(0, err)
		}
		c.recordOutcome(err)
		return nil, err
	}
	c.recordOutcome(nil)
	return payload, nil
}

// State returns the current breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) search(ctx context.Context, query string) (RawPayload, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("engine", c.engine)
	params.Set("k", query)
	params.Set("api_key", c.apiKey)
	endpoint := c.baseURL + searchPath + "?" + params.Encode()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, permanentError(0, fmt.Errorf("build request: %w", err))
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, classifyTransport(ctx, redactKey(err, c.apiKey))
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return nil, classifyStatus(response.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload RawPayload
	decoder := json.NewDecoder(io.LimitReader(response.Body, maxPayloadBytes))
	if err := decoder.Decode(&payload); err != nil {
		return nil, permanentError(response.StatusCode, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if payload == nil {
		return nil, permanentError(response.StatusCode, ErrMalformedPayload)
	}

	if message, ok := payload["error"].(string); ok && strings.TrimSpace(message) != "" {
		if strings.Contains(strings.ToLower(message), noResultsMarker) {
			c.logger.Debug("provider returned no results", zap.String("query", query))
			return payload, nil
		}
		return nil, permanentError(response.StatusCode, fmt.Errorf("provider rejected query: %s", message))
	}

	return payload, nil
}

func (c *Client) recordOutcome(err error) {
	switch {
	case err == nil:
		c.metrics.ProviderRequest(metrics.OutcomeSuccess)
	case IsTransient(err):
		c.metrics.ProviderRequest(metrics.OutcomeTransient)
	default:
		c.metrics.ProviderRequest(metrics.OutcomePermanent)
	}
}

// redactKey keeps the api key out of url.Error messages that end up in logs.
func redactKey(err error, apiKey string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, url.QueryEscape(apiKey), "REDACTED")
	}
	return err
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
