package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"warden/internal/domain"
	"warden/internal/scan"
)

const wsWriteTimeout = 5 * time.Second

type scanRequest struct {
	Host string `json:"host"`
}

// startScan launches a new independent job. Without a host the root domain
// of the last delivered record is scanned.
func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	host := strings.TrimSpace(req.Host)
	if host == "" {
		record, err := s.deps.Broker.Query(r.Context())
		if err != nil {
			if errors.Is(err, domain.ErrNotReady) {
				writeError(w, "no site visited yet; pass a host", http.StatusConflict)
				return
			}
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		host = record.ScanTarget()
	}

	job, err := s.deps.Scans.Start(s.baseCtx, host)
	if err != nil {
		if errors.Is(err, scan.ErrEmptyHost) {
			writeError(w, "host is required", http.StatusBadRequest)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "host": job.Host, "state": job.State})
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, "invalid scan id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	job, found := s.deps.Scans.Get(id)
	if !found {
		writeError(w, "scan not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// streamScan pushes job snapshots over a websocket until the job settles.
func (s *Server) streamScan(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	updates, cancel, err := s.deps.Scans.Subscribe(id)
	if err != nil {
		writeError(w, "scan not found", http.StatusNotFound)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The hijacked connection no longer reports the client leaving through
	// r.Context(); reading is how close frames and dead peers surface.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-clientGone:
			log.Debug("Scan stream client left", "job", id)
			return
		case job, open := <-updates:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan settled"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(job); err != nil {
				log.Debug("Scan stream closed", "job", id, "error", err)
				return
			}
		}
	}
}
