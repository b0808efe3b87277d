package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const maxStatBody = 1 << 20

// Client reads a single worker's status endpoint.
type Client struct {
	url  string
	http *retryablehttp.Client
}

// NewClient targets http://127.0.0.1:<port>/stat.
func NewClient(port int, timeout time.Duration) *Client {
	return NewClientURL(fmt.Sprintf("http://127.0.0.1:%d/stat", port), timeout)
}

// NewClientURL targets an explicit URL.
func NewClientURL(url string, timeout time.Duration) *Client {
	retryClient := retryablehttp.NewClient()
	// One round trip per poll: the caller owns the polling cadence.
	retryClient.RetryMax = 0
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = timeout

	return &Client{url: url, http: retryClient}
}

func (c *Client) URL() string {
	return c.url
}

// Stat fetches and decodes the current worker snapshot.
func (c *Client) Stat(ctx context.Context) (*Stat, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatBody))
	if err != nil {
		return nil, fmt.Errorf("read stat body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s returned %d", c.url, resp.StatusCode)
	}

	return ParseStat(body)
}
