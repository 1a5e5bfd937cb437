package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"kennelbook/internal/metrics"
	"kennelbook/internal/payment"
	"kennelbook/internal/store"
)

// handlePaymentWebhook accepts processor notifications. The payload's
// claimed status is never trusted; the reconciler re-verifies against
// the provider before settling anything.
// POST /api/payments/webhook
func (s *HTTPServer) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("payment_webhook")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var ev payment.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}

	err := s.reconciler.HandleEvent(r.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrUnknownRef):
		writeError(w, http.StatusNotFound, "unknown payment reference")
		return
	default:
		// Tell the processor to redeliver.
		s.logger.Error().Err(err).Str("ref", ev.Ref).Msg("webhook reconciliation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if booking, err := s.db.GetBookingByPaymentRef(r.Context(), ev.Ref); err == nil {
		s.cache.InvalidateResourceDay(r.Context(), booking.Service, booking.Slot, booking.Date)
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn().Err(err).Str("ref", ev.Ref).Msg("cache invalidation lookup failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
