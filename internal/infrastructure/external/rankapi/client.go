// Package rankapi is the HTTP client for the remote rank service.
// It fetches authoritative user progress and confirms prestiges.
package rankapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/circuitbreaker"
	"github.com/gamilit/ranks-engine/pkg/retry"
)

// ErrLocalRateLimit is returned when the client-side limiter gives up waiting.
var ErrLocalRateLimit = errors.New("rank API client rate limit exceeded")

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the rank API client.
type ClientConfig struct {
	// BaseURL is the service root, without the /api/v1 suffix.
	BaseURL string

	// APIKey is sent as a Bearer token when set.
	APIKey string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after the first one.
	// Zero means a failed fetch is reported immediately.
	MaxRetries int

	BreakerThreshold int
	BreakerTimeout   time.Duration

	// RateLimit enables client-side throttling when non-nil.
	RateLimit *RateLimiterConfig

	// RetryOptions are appended to the retry preset.
	RetryOptions []retry.Option

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:          baseURL,
		Timeout:          10 * time.Second,
		BreakerThreshold: 3,
		BreakerTimeout:   60 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the remote rank service.
type Client struct {
	config      ClientConfig
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	rateLimiter *RateLimiter
}

var (
	_ ranks.RankSource        = (*Client)(nil)
	_ ranks.PrestigeConfirmer = (*Client)(nil)
)

// NewClient creates a new rank API client.
func NewClient(config ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if base == "" {
		return nil, shared.NewDomainError("rankapi", "NewClient", shared.ErrInvalidInput, "base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, shared.WrapError("rankapi", "NewClient", shared.ErrInvalidInput, "invalid base URL", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "rankapi")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	breakerOpts := []circuitbreaker.Option{circuitbreaker.WithIsFailure(countsAgainstBreaker)}
	if config.BreakerThreshold > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithFailureThreshold(config.BreakerThreshold))
	}
	if config.BreakerTimeout > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithTimeout(config.BreakerTimeout))
	}
	breaker := circuitbreaker.RankAPIBreaker(func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}, breakerOpts...)

	retryOpts := append([]retry.Option{
		retry.WithMaxAttempts(max(config.MaxRetries, 0) + 1),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Debug("retrying rank API request", "attempt", attempt, "delay", delay, "error", err)
		}),
	}, config.RetryOptions...)

	c := &Client{
		config:     config,
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger,
		breaker:    breaker,
		retrier:    retry.RankAPIRetrier(retryOpts...),
	}
	if config.RateLimit != nil {
		c.rateLimiter = NewRateLimiter(*config.RateLimit)
	}
	return c, nil
}

// BreakerState reports the circuit breaker state, for health checks.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// BreakerStats reports the circuit breaker counters.
func (c *Client) BreakerStats() circuitbreaker.Stats {
	return c.breaker.Stats()
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// CurrentRank fetches the authoritative progress of a user.
func (c *Client) CurrentRank(ctx context.Context, userID string) (ranks.RemoteProgress, error) {
	var dto UserRankProgressDTO
	path := "/api/v1/ranks/users/" + url.PathEscape(userID) + "/current"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return ranks.RemoteProgress{}, err
	}
	return ToRemoteProgress(&dto)
}

// ConfirmPrestige asks the service to accept the user's next prestige tier.
func (c *Client) ConfirmPrestige(ctx context.Context, userID string, nextLevel int) error {
	var result PrestigeResultDTO
	path := "/api/v1/ranks/users/" + url.PathEscape(userID) + "/prestige"
	if err := c.doRequest(ctx, http.MethodPost, path, PrestigeRequestDTO{NextLevel: nextLevel}, &result); err != nil {
		return err
	}
	if !result.Accepted {
		msg := result.Reason
		if msg == "" {
			msg = fmt.Sprintf("prestige %d was not accepted", nextLevel)
		}
		return &APIError{StatusCode: http.StatusOK, Message: msg, Kind: shared.ErrStateTransition}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest runs one logical call through the breaker and the retrier.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if c.rateLimiter != nil {
				if err := c.rateLimiter.Wait(ctx); err != nil {
					return err
				}
			}
			return c.doSingleRequest(ctx, method, path, body, result)
		})
	})
}

// doSingleRequest performs a single HTTP request and unwraps the envelope
// into result. Errors worth another attempt are marked retryable.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Retryable(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("rank api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(started),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	var envelope APIResponse[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := newStatusError(resp.StatusCode, envelope.Error)
		if apiErr.Temporary() {
			if resp.StatusCode == http.StatusTooManyRequests && c.rateLimiter != nil {
				c.rateLimiter.RecordRateLimitHit()
			}
			return retry.Retryable(apiErr)
		}
		return apiErr
	}

	if decodeErr != nil {
		return shared.WrapError("rankapi", "Parse", shared.ErrInvalidFormat, "invalid response from rank API", decodeErr)
	}
	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "rank API request failed"
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, Kind: shared.ErrInvalidInput}
	}
	if result == nil {
		return nil
	}
	if envelope.Data == nil || string(*envelope.Data) == "null" {
		return shared.ErrRankAPIInvalidResponse
	}
	if err := json.Unmarshal(*envelope.Data, result); err != nil {
		return shared.WrapError("rankapi", "Parse", shared.ErrInvalidFormat, "invalid response from rank API", err)
	}
	return nil
}

// countsAgainstBreaker ignores client-side throttling and 4xx answers.
func countsAgainstBreaker(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, ErrLocalRateLimit)
}
