package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"warden/internal/blocker"
	"warden/internal/broker"
	"warden/internal/domain"
	"warden/internal/scan"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Collector runs one reputation lookup for a visited page.
type Collector interface {
	Collect(ctx context.Context, rawHost string) (domain.ReputationRecord, error)
}

// BlockChecker answers blocking queries without going through the broker.
type BlockChecker interface {
	ShouldBlock(rawURL string) bool
	Ready() bool
}

// BlocklistLoader reloads the host lists after the configured sources change.
type BlocklistLoader interface {
	Load(ctx context.Context, reason string) (*blocker.LoadOutcome, error)
}

type Dependencies struct {
	Broker    *broker.Broker
	Collector Collector
	Scans     *scan.Registry
	Blocker   BlockChecker
	Blocklist BlocklistLoader
}

// Server exposes the broker channel, page visits, scans and reports over HTTP.
type Server struct {
	deps     Dependencies
	baseCtx  context.Context
	upgrader websocket.Upgrader
}

// New builds a server. ctx outlives individual requests and bounds the
// background scan jobs started through the API.
func New(ctx context.Context, deps Dependencies) *Server {
	return &Server{
		deps:    deps,
		baseCtx: ctx,
		upgrader: websocket.Upgrader{
			// The API is consumed by local tooling; allow any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("POST /runtime/message", s.handleMessage)
	router.HandleFunc("GET /reputation", s.getReputation)
	router.HandleFunc("POST /pages/visit", s.visitPage)

	router.HandleFunc("POST /scans", s.startScan)
	router.HandleFunc("GET /scans/{id}", s.getScan)
	router.HandleFunc("GET /scans/{id}/events", s.streamScan)

	router.HandleFunc("GET /report", s.getReport)

	router.HandleFunc("GET /blocking", s.getBlocking)
	router.HandleFunc("GET /blocking/check", s.checkBlocking)

	router.HandleFunc("GET /settings", s.getSettings)
	router.HandleFunc("PUT /settings", s.saveSettings)

	router.HandleFunc("GET /version", getVersion)

	return enableCORS(router)
}

// ListenAndServe serves the API on port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting warden API on port :%d", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		log.Info("API server stopped")
		return nil
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}
