package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"warden/internal/broker"
	"warden/internal/domain"
)

// Client talks to a running warden daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError carries a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("warden api: %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Typed replies (broker kinds) still decode into out.
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Kind != "" {
			return payload.Kind
		}
	}
	return strings.TrimSpace(string(data))
}

func (c *Client) Visit(ctx context.Context, pageURL string) (domain.ReputationRecord, error) {
	var record domain.ReputationRecord
	err := c.do(ctx, http.MethodPost, "/pages/visit", map[string]string{"url": pageURL}, &record)
	return record, err
}

// Reputation returns the last record, or domain.ErrNotReady.
func (c *Client) Reputation(ctx context.Context) (domain.ReputationRecord, error) {
	var record domain.ReputationRecord
	err := c.do(ctx, http.MethodGet, "/reputation", nil, &record)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return domain.ReputationRecord{}, domain.ErrNotReady
	}
	return record, err
}

// Send posts a raw channel message and returns the broker reply.
func (c *Client) Send(ctx context.Context, message any) (broker.Reply, error) {
	var reply broker.Reply
	err := c.do(ctx, http.MethodPost, "/runtime/message", message, &reply)
	return reply, err
}

type BlockingStatus struct {
	Mode        string `json:"mode"`
	EngineReady bool   `json:"engine_ready"`
}

func (c *Client) Blocking(ctx context.Context) (BlockingStatus, error) {
	var status BlockingStatus
	err := c.do(ctx, http.MethodGet, "/blocking", nil, &status)
	return status, err
}

type BlockCheck struct {
	URL     string `json:"url"`
	Blocked bool   `json:"blocked"`
}

func (c *Client) CheckBlocked(ctx context.Context, target string) (BlockCheck, error) {
	var check BlockCheck
	err := c.do(ctx, http.MethodGet, "/blocking/check?url="+url.QueryEscape(target), nil, &check)
	return check, err
}

type ReportResponse struct {
	domain.Report
	Mailto string `json:"mailto"`
}

func (c *Client) Report(ctx context.Context, pageURL string) (ReportResponse, error) {
	var rep ReportResponse
	path := "/report"
	if pageURL != "" {
		path += "?url=" + url.QueryEscape(pageURL)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &rep)
	return rep, err
}

type startedScan struct {
	ID   string `json:"id"`
	Host string `json:"host"`
}

func (c *Client) StartScan(ctx context.Context, host string) (string, error) {
	var started startedScan
	if err := c.do(ctx, http.MethodPost, "/scans", map[string]string{"host": host}, &started); err != nil {
		return "", err
	}
	return started.ID, nil
}

func (c *Client) Scan(ctx context.Context, id string) (domain.ScanJob, error) {
	var job domain.ScanJob
	err := c.do(ctx, http.MethodGet, "/scans/"+url.PathEscape(id), nil, &job)
	return job, err
}

// WatchScan streams job snapshots to fn until the job settles, then returns
// the last snapshot.
func (c *Client) WatchScan(ctx context.Context, id string, fn func(domain.ScanJob)) (domain.ScanJob, error) {
	wsURL, err := websocketURL(c.baseURL, "/scans/"+url.PathEscape(id)+"/events")
	if err != nil {
		return domain.ScanJob{}, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return domain.ScanJob{}, fmt.Errorf("%w: open scan stream: %w", domain.ErrTransport, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var last domain.ScanJob
	for {
		var job domain.ScanJob
		if err := conn.ReadJSON(&job); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return last, nil
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("%w: scan stream: %w", domain.ErrTransport, err)
		}
		last = job
		if fn != nil {
			fn(job)
		}
	}
}

func websocketURL(baseURL, path string) (string, error) {
	parsed, err := url.Parse(baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}
