package server

import (
	"net/http"

	"warden/internal/domain"
	"warden/internal/report"
)

type reportResponse struct {
	domain.Report
	Mailto string `json:"mailto"`
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")

	var record *domain.ReputationRecord
	if s.deps.Broker != nil {
		if rec, err := s.deps.Broker.Query(r.Context()); err == nil {
			record = &rec
		}
	}
	if pageURL == "" && record != nil {
		pageURL = record.Domain
	}

	rep := report.FromSettings(pageURL, record)
	writeJSON(w, http.StatusOK, reportResponse{Report: rep, Mailto: rep.MailtoURL()})
}
