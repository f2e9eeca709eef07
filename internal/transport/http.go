package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
)

const userAgent = "techread-go"

// HTTPClient performs the plain HTTPS calls around a session: catalog
// lookups and payload downloads. It retries transient failures; the
// streaming channel itself never retries.
type HTTPClient struct {
	client *http.Client
	retry  RetryConfig
	logger *observability.Logger
}

// NewHTTPClient creates a new HTTP client. A nil client uses http.DefaultClient.
func NewHTTPClient(client *http.Client, retry RetryConfig, logger *observability.Logger) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = observability.Nop()
	}

	return &HTTPClient{
		client: client,
		retry:  retry,
		logger: logger.WithOperation("http"),
	}
}

// Get fetches url and returns the response body. A non-empty token is sent
// as a bearer credential.
func (c *HTTPClient) Get(ctx context.Context, url, token string) ([]byte, error) {
	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", userAgent)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		return c.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.IOError("read response body", err)
	}
	return body, nil
}

// Fetch downloads a payload delivered by URL.
func (c *HTTPClient) Fetch(ctx context.Context, url, token string) ([]byte, error) {
	return c.Get(ctx, url, token)
}

// StatusError is returned for non-retryable, non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

var _ domain.PayloadFetcher = (*HTTPClient)(nil)
