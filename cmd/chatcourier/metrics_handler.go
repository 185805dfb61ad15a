package main

import (
	"net/http"

	"chatcourier/internal/metrics"
)

// handleMetrics serves the in-memory metrics registry as JSON.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAllMetrics())
	}
}
