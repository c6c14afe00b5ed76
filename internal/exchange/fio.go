package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/johnayoung/go-cx-pricefeed/internal/config"
	apperrors "github.com/johnayoung/go-cx-pricefeed/internal/errors"
	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

const (
	// FIO REST API base URL
	fioBaseURL = "https://rest.fnar.net"

	// API endpoints
	listingEndpoint = "/exchange/all"
	historyEndpoint = "/exchange/cxpc/%s"

	// Request configuration
	requestTimeout        = 30 * time.Second
	defaultHistoryTimeout = 3 * time.Second
	defaultUserAgent      = "cx-pricefeed/1.0"

	// Listing retry configuration. History fetches are never retried: a slow or
	// rejected history request means the run is rate limited.
	defaultListingRetries = 2
	initialRetryDelay     = 500 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
	retryMultiplier       = 2.0
	retryJitter           = 0.1

	// Upper bound on a response body; the full listing is a few megabytes.
	maxResponseBytes = 64 << 20

	componentName = "exchange"
)

// FIOClient implements Gateway against the FIO REST API.
type FIOClient struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	historyTimeout time.Duration
	listingRetries int
	retryDelay     time.Duration
	logger         *slog.Logger
}

// NewFIOClient creates a client with default settings.
func NewFIOClient() *FIOClient {
	return &FIOClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:        fioBaseURL,
		userAgent:      defaultUserAgent,
		historyTimeout: defaultHistoryTimeout,
		listingRetries: defaultListingRetries,
		retryDelay:     initialRetryDelay,
		logger:         slog.Default(),
	}
}

// NewFIOClientWithLogger creates a client with default settings and a custom logger.
func NewFIOClientWithLogger(logger *slog.Logger) *FIOClient {
	client := NewFIOClient()
	if logger != nil {
		client.logger = logger
	}
	return client
}

// NewFIOClientFromConfig creates a client from the exchange configuration.
func NewFIOClientFromConfig(cfg config.ExchangeConfig, logger *slog.Logger) *FIOClient {
	client := NewFIOClientWithLogger(logger)
	if cfg.BaseURL != "" {
		client.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.UserAgent != "" {
		client.userAgent = cfg.UserAgent
	}
	client.httpClient.Timeout = cfg.RequestTimeoutDuration()
	client.historyTimeout = cfg.HistoryTimeoutDuration()
	client.listingRetries = cfg.ListingRetries
	return client
}

// BaseURL returns the API root the client talks to.
func (c *FIOClient) BaseURL() string {
	return c.baseURL
}

// HistoryTimeout returns the deadline applied to each history fetch.
func (c *FIOClient) HistoryTimeout() time.Duration {
	return c.historyTimeout
}

// FetchListing implements the ListingFetcher interface.
func (c *FIOClient) FetchListing(ctx context.Context) ([]*models.ListingEntry, error) {
	const operation = "fetch_listing"
	start := time.Now()

	body, err := c.getWithRetry(ctx, operation, c.baseURL+listingEndpoint)
	if err != nil {
		return nil, err
	}
	if isEmptyBody(body) {
		c.logger.Warn("listing response was empty", "duration", time.Since(start))
		return []*models.ListingEntry{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed(operation, listingEndpoint, err)
	}

	entries := make([]*models.ListingEntry, 0, len(raw))
	skipped := 0
	for i, item := range raw {
		entry := models.NewListingEntry()
		if err := entry.UnmarshalJSON(item); err != nil {
			return nil, malformed(operation, listingEndpoint, fmt.Errorf("entry %d: %w", i, err))
		}
		if entry.MaterialTicker() == "" || entry.ExchangeCode() == "" {
			c.logger.Debug("skipping listing entry without ticker or exchange code", "index", i, "fields", entry.Keys())
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	if skipped > 0 {
		c.logger.Warn("skipped listing entries without ticker or exchange code", "skipped", skipped)
	}
	c.logger.Debug("fetched listing",
		"entries", len(entries),
		"bytes", len(body),
		"duration", time.Since(start))

	return entries, nil
}

// FetchHistory implements the HistoryFetcher interface.
func (c *FIOClient) FetchHistory(ctx context.Context, fullTicker string) (HistoryResult, error) {
	start := time.Now()

	outcome, err := WithDeadline(ctx, c.historyTimeout, func(ctx context.Context) ([]models.CandleEntry, error) {
		return c.fetchHistory(ctx, fullTicker)
	})
	elapsed := time.Since(start)

	switch {
	case err != nil && apperrors.IsRateLimit(err):
		c.logger.Warn("history request rejected by rate limit", "ticker", fullTicker, "duration", elapsed)
		return HistoryResult{RateLimited: true, Elapsed: elapsed}, nil
	case err != nil:
		return HistoryResult{Elapsed: elapsed}, err
	case outcome.TimedOut:
		c.logger.Warn("history request exceeded deadline, treating as rate limited",
			"ticker", fullTicker,
			"deadline", c.historyTimeout)
		return HistoryResult{RateLimited: true, Elapsed: elapsed}, nil
	}

	c.logger.Debug("fetched history",
		"ticker", fullTicker,
		"entries", len(outcome.Value),
		"duration", elapsed)

	return HistoryResult{Entries: outcome.Value, Elapsed: elapsed}, nil
}

func (c *FIOClient) fetchHistory(ctx context.Context, fullTicker string) ([]models.CandleEntry, error) {
	const operation = "fetch_history"
	endpoint := fmt.Sprintf(historyEndpoint, url.PathEscape(fullTicker))

	body, err := c.get(ctx, operation, c.baseURL+endpoint)
	if err != nil {
		return nil, err
	}
	if isEmptyBody(body) {
		return nil, nil
	}

	var entries []models.CandleEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, malformed(operation, endpoint, err).With("ticker", fullTicker)
	}
	return entries, nil
}

// getWithRetry performs get, repeating it with exponential backoff while it fails
// transiently, at most listingRetries extra times.
func (c *FIOClient) getWithRetry(ctx context.Context, operation, requestURL string) ([]byte, error) {
	if c.listingRetries <= 0 {
		return c.get(ctx, operation, requestURL)
	}

	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = c.retryDelay
	backoffConfig.MaxInterval = maxRetryDelay
	backoffConfig.Multiplier = retryMultiplier
	backoffConfig.RandomizationFactor = retryJitter
	backoffConfig.MaxElapsedTime = 0 // bounded by the retry count and ctx

	strategy := backoff.WithContext(backoff.WithMaxRetries(backoffConfig, uint64(c.listingRetries)), ctx)

	var body []byte
	attempt := func() error {
		var err error
		body, err = c.get(ctx, operation, requestURL)
		if err != nil && !apperrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("request failed, retrying",
			"operation", operation,
			"error", err,
			"retry_in", wait)
	}

	if err := backoff.RetryNotify(attempt, strategy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// get performs a GET request and returns the body of a 2xx response. A 204 yields a
// nil body. Failures are returned as classified errors.
func (c *FIOClient) get(ctx context.Context, operation, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeConfiguration, componentName, operation,
			fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Classify(fmt.Errorf("request failed: %w", err), componentName, operation).
			With("url", requestURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.New(apperrors.ErrorTypeNetwork, componentName, operation,
			fmt.Errorf("failed to read response body: %w", err)).With("url", requestURL)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.New(apperrors.ErrorTypeRateLimit, componentName, operation,
			fmt.Errorf("status %d", resp.StatusCode)).With("url", requestURL)
	case resp.StatusCode >= 500:
		return nil, apperrors.New(apperrors.ErrorTypeServerError, componentName, operation,
			fmt.Errorf("server error %d: %s", resp.StatusCode, snippet(body))).With("url", requestURL)
	case resp.StatusCode >= 300:
		return nil, apperrors.New(apperrors.ErrorTypeBadRequest, componentName, operation,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(body))).With("url", requestURL)
	}

	return body, nil
}

func malformed(operation, endpoint string, err error) *apperrors.ClassifiedError {
	return apperrors.New(apperrors.ErrorTypeMalformed, componentName, operation,
		fmt.Errorf("malformed response from %s: %w", endpoint, err))
}

// isEmptyBody reports whether a response carries no data: no bytes, only
// whitespace, or a JSON null.
func isEmptyBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
