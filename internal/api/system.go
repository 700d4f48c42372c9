package api

import (
	"net/http"
	"strconv"
	"time"
)

// handleHealth returns the server health status and per-transport
// connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"devices":    s.states.Len(),
		"transports": s.dispatcher.Health(),
		"timestamp":  time.Now().UTC(),
	})
}

// handleTransports lists registered transports and their health.
func (s *Server) handleTransports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": s.dispatcher.Transports(),
		"health":     s.dispatcher.Health(),
	})
}

// handleQueueStatus returns current queue depths.
func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"depth": 0, "offline_depth": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"depth":         s.queue.Size(),
		"offline_depth": s.queue.OfflineSize(),
	})
}

// handleActivity returns the most recent cache changes, oldest first.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries := s.states.Activity(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
