package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
	"kennelbook/internal/report"
	"kennelbook/internal/store"
)

// CapacityDefaultsRequest is the request body for
// PUT /api/admin/capacity-defaults.
type CapacityDefaultsRequest struct {
	Daycare       int `json:"daycare"`
	BoardingSmall int `json:"boarding_small"`
	BoardingLarge int `json:"boarding_large"`
	Trial         int `json:"trial"`
}

// handleCapacityDefaults replaces the per-service default capacities.
// PUT /api/admin/capacity-defaults
func (s *HTTPServer) handleCapacityDefaults(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_capacity_defaults")

	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use PUT")
		return
	}

	var req CapacityDefaultsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Daycare < 0 || req.BoardingSmall < 0 || req.BoardingLarge < 0 || req.Trial < 0 {
		writeError(w, http.StatusBadRequest, "capacities must be non-negative")
		return
	}

	err := s.db.UpdateDefaults(r.Context(), store.Defaults{
		Daycare:       req.Daycare,
		BoardingSmall: req.BoardingSmall,
		BoardingLarge: req.BoardingLarge,
		Trial:         req.Trial,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to update capacity defaults")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Defaults affect arbitrary dates, so the whole read cache goes.
	s.cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// OverrideRequest is the request body for
// POST /api/admin/capacity-overrides.
type OverrideRequest struct {
	Service   string `json:"service"`
	Slot      string `json:"slot,omitempty"`
	DateStart string `json:"date_start"` // Format: YYYY-MM-DD
	DateEnd   string `json:"date_end"`   // Format: YYYY-MM-DD
	Capacity  int    `json:"capacity"`
}

// handleOverrides creates or deletes capacity overrides.
// POST /api/admin/capacity-overrides
// DELETE /api/admin/capacity-overrides?id=N
func (s *HTTPServer) handleOverrides(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_capacity_overrides")

	switch r.Method {
	case http.MethodPost:
		s.createOverride(w, r)
	case http.MethodDelete:
		s.deleteOverride(w, r)
	case http.MethodGet:
		s.listOverrides(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	service := models.Service(req.Service)
	slot := models.Slot(req.Slot)
	if err := models.ValidateResource(service, slot); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, d := range []string{req.DateStart, req.DateEnd} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
			return
		}
	}
	if req.DateStart > req.DateEnd {
		writeError(w, http.StatusBadRequest, "date_start must be before or equal to date_end")
		return
	}
	if req.Capacity < 0 {
		writeError(w, http.StatusBadRequest, "capacity must be non-negative")
		return
	}

	id, err := s.db.CreateOverride(r.Context(), &models.CapacityOverride{
		Service:   service,
		Slot:      slot,
		DateStart: req.DateStart,
		DateEnd:   req.DateEnd,
		Capacity:  req.Capacity,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create override")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.cache.InvalidateAll(r.Context())
	s.logger.Info().
		Int64("override_id", id).
		Str("service", req.Service).
		Str("range", fmt.Sprintf("%s..%s", req.DateStart, req.DateEnd)).
		Int("capacity", req.Capacity).
		Msg("capacity override created")
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *HTTPServer) deleteOverride(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	switch err := s.db.DeleteOverride(r.Context(), id); {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "override not found")
		return
	default:
		s.logger.Error().Err(err).Int64("override_id", id).Msg("failed to delete override")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) listOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.db.ListOverrides(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list overrides")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

// handleOverridesReset removes every override at once.
// POST /api/admin/capacity-overrides/reset
func (s *HTTPServer) handleOverridesReset(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_overrides_reset")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	count, err := s.db.ResetOverrides(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to reset overrides")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"deleted": count})
}

// handleOccupancyReport streams a per-day per-resource occupancy .xlsx.
// GET /api/admin/occupancy-report?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleOccupancyReport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_occupancy_report")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date; expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date; expected YYYY-MM-DD")
		return
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must be before or equal to to")
		return
	}
	if int(to.Sub(from).Hours()/24)+1 > report.MaxReportDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("range exceeds maximum of %d days", report.MaxReportDays))
		return
	}

	filename := fmt.Sprintf("occupancy_%s_%s.xlsx",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	writer := report.NewOccupancyWriter(s.db)
	if err := writer.Write(r.Context(), from, to, w); err != nil {
		s.logger.Error().Err(err).Msg("failed to render occupancy report")
	}
}
