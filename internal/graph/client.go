// Package graph is the HTTP client for the Microsoft Graph REST surface.
// Every call runs under the windowed rate budget, a request smoother, and
// the retry strategy's per-operation circuit breakers.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/resilience"
)

// Config configures the Graph client.
type Config struct {
	// BaseURL is the Graph API root, without a trailing slash.
	BaseURL string
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// SmoothingRPS spreads requests evenly inside the budget window so a
	// burst at window start does not trip server-side throttling.
	SmoothingRPS float64
	// SmoothingBurst is the smoother's burst allowance.
	SmoothingBurst int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://graph.microsoft.com/v1.0",
		Timeout:        30 * time.Second,
		SmoothingRPS:   10,
		SmoothingBurst: 5,
	}
}

// Client issues authenticated GET requests against the Graph API.
// Safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	tokens   domain.TokenProvider
	limiter  *resilience.RateLimiter
	retry    *resilience.RetryStrategy
	smoother *rate.Limiter
	logger   *slog.Logger
}

func NewClient(cfg Config, tokens domain.TokenProvider, limiter *resilience.RateLimiter, retry *resilience.RetryStrategy, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg = DefaultConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SmoothingRPS <= 0 {
		cfg.SmoothingRPS = 10
	}
	if cfg.SmoothingBurst <= 0 {
		cfg.SmoothingBurst = 5
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		tokens:   tokens,
		limiter:  limiter,
		retry:    retry,
		smoother: rate.NewLimiter(rate.Limit(cfg.SmoothingRPS), cfg.SmoothingBurst),
		logger:   logger.With("component", "graph_client"),
	}
}

// Get fetches rawURL and decodes the JSON response into out. Each attempt
// consumes cost units from the windowed budget; retries and breaker state
// are keyed by operationKey.
func (c *Client) Get(ctx context.Context, operationKey, rawURL string, cost int, out interface{}) error {
	return c.retry.Execute(ctx, operationKey, func(ctx context.Context) error {
		if err := c.limiter.Acquire(ctx, cost); err != nil {
			return err
		}
		if err := c.smoother.Wait(ctx); err != nil {
			return err
		}
		return c.doGet(ctx, rawURL, out)
	})
}

func (c *Client) doGet(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.APIError{Message: err.Error(), StatusCode: 0}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.classify(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.APIError{
			Message:    fmt.Sprintf("decode response: %v", err),
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}

func (c *Client) classify(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	apiErr := &domain.APIError{
		Message:    strings.TrimSpace(string(snippet)),
		StatusCode: resp.StatusCode,
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		if apiErr.RetryAfter > 0 {
			// Halt all admissions, not just this operation. The server
			// throttles the whole app registration.
			c.limiter.Suspend(apiErr.RetryAfter)
		}
		c.logger.Warn("throttled by server", "retry_after", apiErr.RetryAfter)
	}
	return apiErr
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// listPage is the envelope of every Graph collection response.
type listPage struct {
	Value     json.RawMessage `json:"value"`
	NextLink  string          `json:"@odata.nextLink"`
	DeltaLink string          `json:"@odata.deltaLink"`
}

// getPages follows @odata.nextLink until the collection is exhausted,
// invoking fn with each page's raw value array. When the server hands
// back a terminal @odata.deltaLink, its token is returned.
func (c *Client) getPages(ctx context.Context, operationKey, rawURL string, cost int, fn func(json.RawMessage) error) (string, error) {
	for rawURL != "" {
		var page listPage
		if err := c.Get(ctx, operationKey, rawURL, cost, &page); err != nil {
			return "", err
		}
		if len(page.Value) > 0 {
			if err := fn(page.Value); err != nil {
				return "", err
			}
		}
		if page.NextLink != "" {
			rawURL = page.NextLink
			continue
		}
		if page.DeltaLink != "" {
			return deltaToken(page.DeltaLink), nil
		}
		rawURL = ""
	}
	return "", nil
}

func deltaToken(deltaLink string) string {
	u, err := url.Parse(deltaLink)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}
