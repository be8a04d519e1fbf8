package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/domain"
)

func TestClientLookup(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"domain": "evil.example",
			"root_domain": "evil.example",
			"ip_address": "203.0.113.7",
			"unsafe": true,
			"phishing": true,
			"malware": false,
			"spamming": false,
			"risk_score": 100
		}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL + "/", APIKey: "key"})
	record, err := client.Lookup(context.Background(), "evil.example")
	require.NoError(t, err)

	assert.Equal(t, "/key/evil.example", gotPath)
	assert.Equal(t, "evil.example", record.Domain)
	assert.Equal(t, "203.0.113.7", record.IP())
	assert.True(t, record.Unsafe)
	assert.True(t, record.Phishing)
	assert.Equal(t, float64(100), record.RiskScore)
}

func TestClientLookupNullIP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"domain":"example.com","ip_address":null,"unsafe":false,"risk_score":0}`))
	}))
	defer server.Close()

	record, err := NewClient(ClientConfig{BaseURL: server.URL}).Lookup(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Nil(t, record.IPAddress)
	assert.Equal(t, "", record.IP())
}

func TestClientLookupErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"service rejection", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"message":"Invalid API key."}`))
		}},
		{"bad status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			_, err := NewClient(ClientConfig{BaseURL: server.URL}).Lookup(context.Background(), "example.com")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrTransport)
		})
	}
}

func TestClientLookupUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(ClientConfig{BaseURL: url}).Lookup(context.Background(), "example.com")
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestClientResolvesKeyPerLookup(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"domain":"example.com"}`))
	}))
	defer server.Close()

	key := "old-key"
	client := NewClient(ClientConfig{BaseURL: server.URL, APIKeyFunc: func() string { return key }})

	_, err := client.Lookup(context.Background(), "example.com")
	require.NoError(t, err)
	key = "new-key"
	_, err = client.Lookup(context.Background(), "example.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"/old-key/example.com", "/new-key/example.com"}, paths)
}
