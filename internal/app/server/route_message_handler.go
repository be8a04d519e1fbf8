package server

import (
	"errors"
	"io"
	"net/http"

	"warden/internal/broker"
	"warden/internal/domain"
)

func replyStatus(kind broker.ReplyKind) int {
	switch kind {
	case broker.ReplyRecord, broker.ReplyOK:
		return http.StatusOK
	case broker.ReplyAccepted:
		return http.StatusAccepted
	case broker.ReplyNotReady, broker.ReplyEngineNotReady:
		return http.StatusServiceUnavailable
	case broker.ReplyUnrecognized:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// handleMessage is the inter-context channel: every body gets exactly one reply.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		reply := broker.Reply{Kind: broker.ReplyUnrecognized, Error: "message body could not be read"}
		writeJSON(w, replyStatus(reply.Kind), reply)
		return
	}

	reply := s.deps.Broker.Handle(r.Context(), raw)
	writeJSON(w, replyStatus(reply.Kind), reply)
}

func (s *Server) getReputation(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Broker.Query(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotReady) {
			writeJSON(w, http.StatusServiceUnavailable, broker.Reply{Kind: broker.ReplyNotReady})
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
