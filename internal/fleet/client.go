// Package fleet talks to the fleet manager: registration, periodic speed
// reports and benchmark results.
package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/qudata/gminer-agent/internal/domain"
)

type Client struct {
	baseURL string
	apiKey  string

	mu     sync.RWMutex
	secret string

	http   *http.Client
	logger *slog.Logger
}

func NewClient(apiKey, baseURL string, logger *slog.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    retryClient.StandardClient(),
		logger:  logger,
	}
}

// UseSecret switches from API key auth to the per-agent secret.
func (c *Client) UseSecret(secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secret = secret
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/ping", nil)
	return err
}

// Register announces the agent and its assignment. The returned secret is
// empty when the fleet manager keeps the previous one.
func (c *Client) Register(ctx context.Context, reg domain.AgentRegistration) (*domain.RegistrationData, error) {
	body, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("marshal registration: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/agents", body)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}

	var resp domain.RegistrationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal registration response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("register agent: API returned ok=false")
	}
	return &resp.Data, nil
}

func (c *Client) SendStats(ctx context.Context, report domain.StatsReport) error {
	return c.post(ctx, "/stats", report)
}

func (c *Client) SendBenchmark(ctx context.Context, report domain.BenchmarkReport) error {
	return c.post(ctx, "/benchmarks", report)
}

func (c *Client) post(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	_, err = c.doRequest(ctx, http.MethodPost, path, body)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	secret := c.secret
	c.mu.RUnlock()

	if secret != "" {
		req.Header.Set("X-Agent-Secret", secret)
	} else {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("fleet API error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, fmt.Errorf("fleet %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
