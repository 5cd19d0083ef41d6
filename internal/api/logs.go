package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halverson/offload/internal/journal"
)

// logsResponse wraps the diagnostic log excerpt for one invocation.
type logsResponse struct {
	InvocationID string            `json:"invocation_id"`
	Lines        []journal.LogLine `json:"lines"`
}

func (s *Server) handleGetInvocationLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.journal.GetRecord(r.Context(), id); err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "invocation not found")
			return
		}
		s.logger.Error("get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	lines, err := s.journal.LogLines(r.Context(), id)
	if err != nil {
		s.logger.Error("get log lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
		return
	}
	if lines == nil {
		lines = []journal.LogLine{}
	}

	s.writeJSON(w, http.StatusOK, logsResponse{InvocationID: id, Lines: lines})
}
