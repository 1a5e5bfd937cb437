package api

import (
	"net/http"
	"time"

	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
)

// handleAvailability returns usage counters for one resource-day.
// GET /api/availability?service=&slot=&date=YYYY-MM-DD
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	service := models.Service(r.URL.Query().Get("service"))
	slot := models.Slot(r.URL.Query().Get("slot"))
	date := r.URL.Query().Get("date")

	if err := models.ValidateResource(service, slot); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	if cached, ok := s.cache.GetAvailability(r.Context(), service, slot, date); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	usage, err := s.db.GetUsage(r.Context(), service, slot, date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("availability lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.cache.SetAvailability(r.Context(), service, slot, date, &usage)
	writeJSON(w, http.StatusOK, usage)
}

// handleCapacityOverview returns the full per-resource projection for a
// date, with the boarding aggregate and facility totals.
// GET /api/capacity-overview?date=YYYY-MM-DD
func (s *HTTPServer) handleCapacityOverview(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("capacity_overview")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	date := r.URL.Query().Get("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	if cached, ok := s.cache.GetOverview(r.Context(), date); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	overview, err := s.db.QueryOverview(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("overview query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.cache.SetOverview(r.Context(), date, overview)
	writeJSON(w, http.StatusOK, overview)
}
