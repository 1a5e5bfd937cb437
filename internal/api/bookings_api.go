package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
	"kennelbook/internal/payment"
	"kennelbook/internal/store"

	"github.com/google/uuid"
)

// BookingRequest is the request body for POST /api/bookings. The hold
// must exist and still be live; pricing inputs travel with the booking
// so the charge matches what the client saw.
type BookingRequest struct {
	ReservationID string `json:"reservation_id"`
	DogCount      int    `json:"dog_count"`
	CheckoutDate  string `json:"checkout_date,omitempty"` // boarding only
	CheckoutLabel string `json:"checkout_label,omitempty"`
}

// BookingResponse is the response for POST /api/bookings.
type BookingResponse struct {
	BookingID   string `json:"booking_id"`
	PaymentRef  string `json:"payment_ref"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Total       int    `json:"total"`
	Nights      int    `json:"nights,omitempty"`
	PMSurcharge int    `json:"pm_surcharge,omitempty"`
}

// handleCreateBooking prices the stay, persists the booking and creates
// the payment intent. The whole-unit total converts to cents exactly
// here, at the payment boundary.
// POST /api/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req BookingRequest
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
		s.logger.Error().Err(err).Msg("booking lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	if res.Status != models.StatusActive || res.Expired(now) {
		writeError(w, http.StatusConflict, "reservation is no longer active")
		return
	}

	dogCount := req.DogCount
	if dogCount < 1 {
		dogCount = 1
	}

	quote, status, errMsg := s.quoteFor(&QuoteRequest{
		Service:       string(res.Service),
		DogCount:      dogCount,
		CheckinDate:   res.Date,
		CheckoutDate:  req.CheckoutDate,
		CheckoutLabel: req.CheckoutLabel,
	})
	if errMsg != "" {
		writeError(w, status, errMsg)
		return
	}

	booking := &models.Booking{
		ID:            uuid.NewString(),
		ReservationID: res.ID,
		Service:       res.Service,
		Slot:          res.Slot,
		Date:          res.Date,
		CheckoutDate:  req.CheckoutDate,
		CheckoutLabel: req.CheckoutLabel,
		DogCount:      dogCount,
		UserEmail:     res.UserEmail,
		Total:         quote.Total,
		Nights:        quote.Nights,
		PerNight:      quote.PerNight,
		PMSurcharge:   quote.PMSurcharge,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.CreateBooking(r.Context(), booking); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist booking")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	intent, err := s.provider.CreateIntent(r.Context(), payment.CreateIntentInput{
		BookingID:   booking.ID,
		AmountCents: int64(quote.Total) * 100,
		Currency:    s.currency,
		Description: fmt.Sprintf("%s %s", res.Service, res.Date),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("failed to create payment intent")
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	if err := s.db.SetBookingPaymentRef(r.Context(), booking.ID, intent.Ref); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("failed to record payment ref")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.db.SetPendingPaymentRef(r.Context(), res.ID, intent.Ref); err != nil {
		s.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to tag reservation with payment ref")
	}

	writeJSON(w, http.StatusOK, BookingResponse{
		BookingID:   booking.ID,
		PaymentRef:  intent.Ref,
		CheckoutURL: intent.CheckoutURL,
		Total:       quote.Total,
		Nights:      quote.Nights,
		PMSurcharge: quote.PMSurcharge,
	})
}
