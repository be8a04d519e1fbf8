package server

import (
	"net/http"
)

func (s *Server) getBlocking(w http.ResponseWriter, r *http.Request) {
	mode, err := s.deps.Broker.Mode(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ready := s.deps.Blocker != nil && s.deps.Blocker.Ready()
	writeJSON(w, http.StatusOK, map[string]any{"mode": mode, "engine_ready": ready})
}

func (s *Server) checkBlocking(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, "url is required", http.StatusBadRequest)
		return
	}
	if s.deps.Blocker == nil || !s.deps.Blocker.Ready() {
		writeError(w, "blocking engine not ready", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": target, "blocked": s.deps.Blocker.ShouldBlock(target)})
}
