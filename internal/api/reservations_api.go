package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"kennelbook/internal/ledger"
	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
	"kennelbook/internal/store"
)

// ReserveRequest is the request body for POST /api/reserve.
type ReserveRequest struct {
	Service        string `json:"service"`
	Slot           string `json:"slot,omitempty"`
	Date           string `json:"date"` // Format: YYYY-MM-DD
	UserEmail      string `json:"user_email"`
	DogID          string `json:"dog_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReserveResponse is the response for POST /api/reserve.
type ReserveResponse struct {
	ReservationID string    `json:"reservation_id"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// handleReserve creates a capacity hold.
// POST /api/reserve
func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reserve")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ReserveRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UserEmail != "" && !s.allowReserve(req.UserEmail) {
		writeError(w, http.StatusTooManyRequests, "too many reserve attempts; slow down")
		return
	}

	res, err := s.ledger.Reserve(r.Context(), ledger.ReserveInput{
		Service:        models.Service(req.Service),
		Slot:           models.Slot(req.Slot),
		Date:           req.Date,
		UserEmail:      req.UserEmail,
		DogID:          req.DogID,
		IdempotencyKey: req.IdempotencyKey,
	})
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrCapacityExceeded):
		metrics.IncCapacityExceeded()
		writeError(w, http.StatusConflict, "fully booked for this date")
		return
	case errors.Is(err, store.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency key already used by an expired or released hold")
		return
	default:
		s.logger.Error().Err(err).Msg("reserve failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.IncReservationCreated()
	s.cache.InvalidateResourceDay(r.Context(), res.Service, res.Slot, res.Date)

	writeJSON(w, http.StatusOK, ReserveResponse{
		ReservationID: res.ID,
		Status:        res.Status,
		ExpiresAt:     res.ExpiresAt,
	})
}

// ReleaseRequest is the request body for POST /api/release.
type ReleaseRequest struct {
	ReservationID string `json:"reservation_id"`
}

// handleRelease frees a hold. Releasing an already-terminal hold still
// returns 200 so client retries are harmless.
// POST /api/release
func (s *HTTPServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("release")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ReleaseRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ReservationID == "" {
		writeError(w, http.StatusBadRequest, "reservation_id is required")
		return
	}

	res, err := s.ledger.Get(r.Context(), req.ReservationID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reservation not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("release lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.ledger.Release(r.Context(), req.ReservationID); err != nil {
		s.logger.Error().Err(err).Str("reservation_id", req.ReservationID).Msg("release failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.cache.InvalidateResourceDay(r.Context(), res.Service, res.Slot, res.Date)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
