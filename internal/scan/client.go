package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"warden/internal/domain"
)

const (
	defaultBaseURL    = "https://observatory-api.mdn.mozilla.net/api/v2"
	defaultSubmitPath = "/scan?host={host}"
	defaultResultPath = "/scan/{id}"
	defaultTimeout    = 15 * time.Second
	maxBodyBytes      = 4 << 20
)

type ClientConfig struct {
	BaseURL    string
	SubmitPath string
	ResultPath string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to an HTTP Observatory style scanner.
type Client struct {
	baseURL    string
	submitPath string
	resultPath string
	client     *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, defaultBaseURL), "/"),
		submitPath: orDefault(cfg.SubmitPath, defaultSubmitPath),
		resultPath: orDefault(cfg.ResultPath, defaultResultPath),
		client:     cfg.HTTPClient,
	}
	if c.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.client = &http.Client{Timeout: timeout}
	}
	return c
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// Submit creates a scan job for host and returns the raw response document.
func (c *Client) Submit(ctx context.Context, host string) (json.RawMessage, error) {
	endpoint := c.baseURL + strings.ReplaceAll(c.submitPath, "{host}", url.QueryEscape(host))
	return c.do(ctx, http.MethodPost, endpoint)
}

// Fetch retrieves the current result document of a scan job.
func (c *Client) Fetch(ctx context.Context, scanID string) (json.RawMessage, error) {
	endpoint := c.baseURL + strings.ReplaceAll(c.resultPath, "{id}", url.PathEscape(scanID))
	return c.do(ctx, http.MethodGet, endpoint)
}

func (c *Client) do(ctx context.Context, method, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("scanner: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: scanner request: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: scanner read body: %w", domain.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: scanner unexpected status %d: %s", domain.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: scanner returned a non-JSON document", domain.ErrTransport)
	}

	return json.RawMessage(body), nil
}
