package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/broker"
	"warden/internal/domain"
)

type fakeDaemon struct {
	mu       sync.Mutex
	record   *domain.ReputationRecord
	mode     string
	ready    bool
	messages []map[string]string
	jobID    uuid.UUID
	updates  []domain.ScanJob
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, *httptest.Server) {
	t.Helper()
	d := &fakeDaemon{mode: "enabled", ready: true, jobID: uuid.New()}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /pages/visit", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		ip := "93.184.216.34"
		rec := domain.ReputationRecord{Domain: "evil.example", RootDomain: "evil.example", IPAddress: &ip, Unsafe: true, Phishing: true, RiskScore: 90}
		d.mu.Lock()
		d.record = &rec
		d.mu.Unlock()
		writeTestJSON(w, http.StatusOK, rec)
	})
	mux.HandleFunc("GET /reputation", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.record == nil {
			writeTestJSON(w, http.StatusServiceUnavailable, broker.Reply{Kind: broker.ReplyNotReady, Error: "not ready"})
			return
		}
		writeTestJSON(w, http.StatusOK, d.record)
	})
	mux.HandleFunc("POST /runtime/message", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		defer d.mu.Unlock()
		d.messages = append(d.messages, body)
		if !d.ready {
			writeTestJSON(w, http.StatusServiceUnavailable, broker.Reply{Kind: broker.ReplyEngineNotReady, Mode: d.mode, Error: "engine not ready"})
			return
		}
		if body["text"] == broker.TextDisableBlocking {
			d.mode = "disabled"
		} else {
			d.mode = "enabled"
		}
		writeTestJSON(w, http.StatusOK, broker.Reply{Kind: broker.ReplyOK, Mode: d.mode})
	})
	mux.HandleFunc("GET /blocking", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		writeTestJSON(w, http.StatusOK, BlockingStatus{Mode: d.mode, EngineReady: d.ready})
	})
	mux.HandleFunc("GET /blocking/check", func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		writeTestJSON(w, http.StatusOK, BlockCheck{URL: target, Blocked: strings.Contains(target, "ads.")})
	})
	mux.HandleFunc("GET /report", func(w http.ResponseWriter, r *http.Request) {
		rep := domain.Report{Recipient: "support@example.com", Subject: "[acUsS denied] Report for evil.example", Body: "URL: " + r.URL.Query().Get("url")}
		writeTestJSON(w, http.StatusOK, ReportResponse{Report: rep, Mailto: rep.MailtoURL()})
	})
	mux.HandleFunc("POST /scans", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["host"] == "" {
			writeTestJSON(w, http.StatusConflict, map[string]string{"error": "no site visited yet; pass a host"})
			return
		}
		writeTestJSON(w, http.StatusAccepted, map[string]any{"id": d.jobID, "host": body["host"], "state": domain.JobSubmitting})
	})
	mux.HandleFunc("GET /scans/{id}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		writeTestJSON(w, http.StatusOK, d.updates[len(d.updates)-1])
	})
	mux.HandleFunc("GET /scans/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		d.mu.Lock()
		updates := append([]domain.ScanJob(nil), d.updates...)
		d.mu.Unlock()
		for _, job := range updates {
			if err := conn.WriteJSON(job); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "settled"))
		_, _, _ = conn.ReadMessage()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return d, srv
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--timeout", "5s"}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func scanUpdates(id uuid.UUID) []domain.ScanJob {
	grade := domain.GradeA
	base := domain.ScanJob{ID: id, Host: "evil.example"}
	submitting := base
	submitting.State, submitting.Status = domain.JobSubmitting, "submitting scan for evil.example"
	polling := base
	polling.State, polling.Status, polling.Attempt = domain.JobPolling, "polling attempt 1 of 20", 1
	finished := base
	finished.State, finished.Status, finished.Attempt = domain.JobFinished, "scan complete: grade A", 1
	finished.Result = &domain.ScanResult{Raw: json.RawMessage(`{"grade":"A"}`), Grade: &grade}
	return []domain.ScanJob{submitting, polling, finished}
}

func TestStatusBeforeVisit(t *testing.T) {
	_, srv := newFakeDaemon(t)
	out, err := runCLI(t, srv, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No site visited yet.")
}

func TestStatusBeforeVisitJSON(t *testing.T) {
	_, srv := newFakeDaemon(t)
	out, err := runCLI(t, srv, "status", "-o", "json")
	require.NoError(t, err)

	var reply broker.Reply
	require.NoError(t, json.Unmarshal([]byte(out), &reply))
	assert.Equal(t, broker.ReplyNotReady, reply.Kind)
	assert.NotContains(t, out, "No site visited yet.")
}

func TestVisitThenStatus(t *testing.T) {
	_, srv := newFakeDaemon(t)

	out, err := runCLI(t, srv, "visit", "https://evil.example/login")
	require.NoError(t, err)
	assert.Contains(t, out, "Verdict:     Unsafe")
	assert.Contains(t, out, "93.184.216.34")
	assert.Contains(t, out, "known to be unsafe")

	out, err = runCLI(t, srv, "status", "-o", "json")
	require.NoError(t, err)
	var record domain.ReputationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, "evil.example", record.Domain)
	assert.True(t, record.Phishing)
}

func TestBlockingToggle(t *testing.T) {
	d, srv := newFakeDaemon(t)

	out, err := runCLI(t, srv, "blocking", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "Blocking is now disabled")

	out, err = runCLI(t, srv, "blocking")
	require.NoError(t, err)
	assert.Contains(t, out, "Blocking is disabled (engine ready: true)")

	_, err = runCLI(t, srv, "blocking", "on")
	require.NoError(t, err)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.messages, 2)
	assert.Equal(t, broker.TextDisableBlocking, d.messages[0]["text"])
	assert.Equal(t, broker.TextEnableBlocking, d.messages[1]["text"])
}

func TestBlockingEngineNotReady(t *testing.T) {
	d, srv := newFakeDaemon(t)
	d.ready = false

	_, err := runCLI(t, srv, "blocking", "off")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still loading")
	assert.Contains(t, err.Error(), "enabled")
}

func TestBlockingRejectsUnknownArgument(t *testing.T) {
	_, srv := newFakeDaemon(t)
	_, err := runCLI(t, srv, "blocking", "maybe")
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	_, srv := newFakeDaemon(t)

	out, err := runCLI(t, srv, "check", "https://ads.example/pixel.gif")
	require.NoError(t, err)
	assert.Contains(t, out, "would be blocked")

	out, err = runCLI(t, srv, "check", "https://news.example/")
	require.NoError(t, err)
	assert.Contains(t, out, "is allowed")
}

func TestReport(t *testing.T) {
	_, srv := newFakeDaemon(t)
	out, err := runCLI(t, srv, "report", "https://evil.example/login")
	require.NoError(t, err)
	assert.Contains(t, out, "To:      support@example.com")
	assert.Contains(t, out, "Report for evil.example")
	assert.Contains(t, out, "mailto:support@example.com?subject=")
}

func TestScanFollowsProgress(t *testing.T) {
	d, srv := newFakeDaemon(t)
	d.updates = scanUpdates(d.jobID)

	out, err := runCLI(t, srv, "scan", "evil.example")
	require.NoError(t, err)
	assert.Contains(t, out, "submitting scan for evil.example\n")
	assert.Contains(t, out, "polling attempt 1 of 20\n")
	assert.Contains(t, out, "State:    finished")
	assert.Contains(t, out, "Grade:    A")
}

func TestScanDetach(t *testing.T) {
	d, srv := newFakeDaemon(t)
	out, err := runCLI(t, srv, "scan", "-d", "evil.example")
	require.NoError(t, err)
	assert.Equal(t, d.jobID.String()+"\n", out)
}

func TestScanWithoutVisitedSite(t *testing.T) {
	_, srv := newFakeDaemon(t)
	_, err := runCLI(t, srv, "scan")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Message, "no site visited yet")
}

func TestUnsupportedOutputFormat(t *testing.T) {
	_, srv := newFakeDaemon(t)
	_, err := runCLI(t, srv, "check", "-o", "yaml", "https://news.example/")
	require.Error(t, err)
}

func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("https://warden.local:8085", "/scans/x/events")
	require.NoError(t, err)
	assert.Equal(t, "wss://warden.local:8085/scans/x/events", got)

	_, err = websocketURL("ftp://warden.local", "/x")
	assert.Error(t, err)
}

func TestStatusLinePlainOutput(t *testing.T) {
	var buf bytes.Buffer
	s := newStatusLine(&buf)
	s.update("one")
	s.update("one")
	s.update("two")
	s.done()
	assert.Equal(t, "one\ntwo\n", buf.String())
}
