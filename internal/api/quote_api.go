package api

import (
	"encoding/json"
	"net/http"
	"time"

	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
	"kennelbook/internal/pricing"
)

// QuoteRequest is the request body for POST /api/quote. Checkin/checkout
// fields only apply to boarding.
type QuoteRequest struct {
	Service       string `json:"service"`
	DogCount      int    `json:"dog_count"`
	CheckinDate   string `json:"checkin_date,omitempty"`  // Format: YYYY-MM-DD
	CheckoutDate  string `json:"checkout_date,omitempty"` // Format: YYYY-MM-DD
	CheckoutLabel string `json:"checkout_label,omitempty"`
}

// handleQuote prices a prospective booking without touching capacity.
// POST /api/quote
func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("quote")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req QuoteRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	quote, status, errMsg := s.quoteFor(&req)
	if errMsg != "" {
		writeError(w, status, errMsg)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *HTTPServer) quoteFor(req *QuoteRequest) (pricing.Quote, int, string) {
	switch models.Service(req.Service) {
	case models.ServiceDaycare:
		return s.pricer.Daycare(), 0, ""
	case models.ServiceTrial:
		return s.pricer.Trial(), 0, ""
	case models.ServiceBoarding:
		if req.CheckinDate == "" || req.CheckoutDate == "" {
			return pricing.Quote{}, http.StatusBadRequest, "checkin_date and checkout_date are required for boarding"
		}
		checkin, err := time.ParseInLocation("2006-01-02", req.CheckinDate, s.loc)
		if err != nil {
			return pricing.Quote{}, http.StatusBadRequest, "invalid checkin_date format; expected YYYY-MM-DD"
		}
		checkout, err := time.ParseInLocation("2006-01-02", req.CheckoutDate, s.loc)
		if err != nil {
			return pricing.Quote{}, http.StatusBadRequest, "invalid checkout_date format; expected YYYY-MM-DD"
		}
		dogCount := req.DogCount
		if dogCount < 1 {
			dogCount = 1
		}
		return s.pricer.Boarding(pricing.BoardingInput{
			DogCount:          dogCount,
			CheckinDate:       checkin,
			CheckoutDate:      checkout,
			CheckoutTimeLabel: req.CheckoutLabel,
		}), 0, ""
	default:
		return pricing.Quote{}, http.StatusBadRequest, "unknown service"
	}
}
