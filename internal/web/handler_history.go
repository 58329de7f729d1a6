package web

import (
	"net/http"
	"strconv"
)

const maxHistoryLimit = 200

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.service.HistoryEnabled() {
		http.NotFound(w, r)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := s.service.History(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list history", http.StatusInternalServerError)
		s.logger.Error("list history failed", "error", err)
		return
	}

	if err := s.renderPage(w, http.StatusOK,
		map[string]any{"Title": "History", "Runs": runs, "ActiveNav": "history", "HistoryEnabled": true},
		"base.html", "pages/history.html",
	); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}
