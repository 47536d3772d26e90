// Package apiclient wraps every outbound resource call an adapter makes
// with one rate-limit and retry policy: status classification into the
// accounting error taxonomy, Retry-After extraction on 429, and bounded
// exponential backoff on 5xx/transport failures for idempotent calls only.
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
)

// Config for a per-provider client.
type Config struct {
	Provider   accounting.ProviderID
	HTTPClient *http.Client
	MaxRetries int
	Logger     *zap.Logger
}

// Client executes classified HTTP calls for one provider.
type Client struct {
	provider   accounting.ProviderID
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger
}

// New creates a client. Zero-value config fields get defaults.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		provider:   cfg.Provider,
		httpClient: httpClient,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Request is one outbound call. Idempotent marks reads and other calls
// that are safe to re-issue; create calls must leave it false so an
// ambiguous failure is surfaced instead of risking a duplicate posting.
type Request struct {
	Method     string
	URL        string
	Header     http.Header
	Body       []byte
	Idempotent bool
}

// Do executes the request under the retry policy and returns the response
// body. Errors are always one of the accounting taxonomy types.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	var body []byte

	operation := func() error {
		var err error
		body, err = c.attempt(ctx, r)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// attempt issues the request once and classifies the outcome. Retryable
// failures are returned bare; everything else is wrapped in
// backoff.Permanent so the policy stops immediately.
func (c *Client) attempt(ctx context.Context, r Request) ([]byte, error) {
	var reader io.Reader
	if len(r.Body) > 0 {
		reader = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.unavailable(r, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.unavailable(r, fmt.Errorf("failed to read response body: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, backoff.Permanent(&accounting.UnauthorizedError{Provider: c.provider})

	case resp.StatusCode == http.StatusTooManyRequests:
		// Surfaced to the caller unretried; backing off across a rate
		// limit window is a caller-level decision.
		return nil, backoff.Permanent(&accounting.RateLimitError{
			Provider:   c.provider,
			RetryAfter: retryAfter(resp.Header),
		})

	case resp.StatusCode >= 500:
		c.logger.Warn("provider returned server error",
			zap.String("provider", c.provider.String()),
			zap.String("url", r.URL),
			zap.Int("status", resp.StatusCode))
		return nil, c.unavailable(r, fmt.Errorf("status %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))

	default:
		return nil, backoff.Permanent(&accounting.ProviderError{
			Provider:   c.provider,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    http.StatusText(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Raw:        string(body),
		})
	}
}

func (c *Client) unavailable(r Request, err error) error {
	uerr := &accounting.UnavailableError{Provider: c.provider, Err: err}
	if !r.Idempotent {
		return backoff.Permanent(uerr)
	}
	return uerr
}

// retryAfter parses the Retry-After header, in seconds per the providers'
// rate-limit contracts. Zero when absent or unparsable.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
