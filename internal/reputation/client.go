package reputation

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
	defaultBaseURL = "https://www.ipqualityscore.com/api/json/url"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

type ClientConfig struct {
	BaseURL string
	APIKey  string
	// APIKeyFunc, when set, resolves the key on every lookup so settings
	// changes apply to the running client.
	APIKeyFunc func() string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client queries the IPQualityScore URL reputation API.
type Client struct {
	baseURL string
	apiKey  func() string
	client  *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	apiKey := cfg.APIKeyFunc
	if apiKey == nil {
		fixed := cfg.APIKey
		apiKey = func() string { return fixed }
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
	}
}

type lookupResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	domain.ReputationRecord
}

// Lookup performs a single reputation request for host. It never retries.
func (c *Client) Lookup(ctx context.Context, host string) (domain.ReputationRecord, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(c.apiKey()) + "/" + url.PathEscape(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ReputationRecord{}, fmt.Errorf("reputation: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ReputationRecord{}, fmt.Errorf("%w: reputation request: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.ReputationRecord{}, fmt.Errorf("%w: reputation read body: %w", domain.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ReputationRecord{}, fmt.Errorf("%w: reputation unexpected status %d: %s", domain.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload lookupResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ReputationRecord{}, fmt.Errorf("%w: reputation decode: %w", domain.ErrTransport, err)
	}

	if payload.Success != nil && !*payload.Success {
		msg := payload.Message
		if msg == "" {
			msg = "lookup rejected"
		}
		return domain.ReputationRecord{}, fmt.Errorf("%w: reputation service: %s", domain.ErrTransport, msg)
	}

	return payload.ReputationRecord, nil
}
