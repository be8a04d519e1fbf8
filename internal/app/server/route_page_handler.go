package server

import (
	"errors"
	"net/http"

	"warden/internal/domain"
	"warden/internal/reputation"
)

type visitRequest struct {
	URL string `json:"url"`
}

// visitPage runs the collector exactly as a page load in the browser would.
func (s *Server) visitPage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Collector == nil {
		writeError(w, "collector not configured", http.StatusServiceUnavailable)
		return
	}

	var req visitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	record, err := s.deps.Collector.Collect(r.Context(), req.URL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, record)
	case errors.Is(err, reputation.ErrEmptyHost):
		writeError(w, "url is required", http.StatusBadRequest)
	case errors.Is(err, domain.ErrTransport):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
