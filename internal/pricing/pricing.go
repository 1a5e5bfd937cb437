// Package pricing computes booking prices with the calendar-day model.
// All amounts are whole currency units; conversion to cents happens once,
// at the payment intent boundary.
package pricing

import (
	"strconv"
	"strings"
	"time"
)

// Rates holds the configurable price constants.
type Rates struct {
	DaycareFlat      int
	TrialFlat        int
	BoardingOneDog   int // per night, single dog
	BoardingTwoDogs  int // per night, two or more dogs
	LatePickupFee    int // flat surcharge for checkouts at or after the cutoff
	LatePickupCutoff int // hour of day, 24h clock
}

// DefaultRates returns the facility's standard price list.
func DefaultRates() Rates {
	return Rates{
		DaycareFlat:      20,
		TrialFlat:        20,
		BoardingOneDog:   25,
		BoardingTwoDogs:  40,
		LatePickupFee:    10,
		LatePickupCutoff: 16,
	}
}

// Quote is a computed price. Nights/PerNight/PMSurcharge are only set
// for the per-night model.
type Quote struct {
	Total       int    `json:"total"`
	Model       string `json:"model"`
	Nights      int    `json:"nights,omitempty"`
	PerNight    int    `json:"per_night,omitempty"`
	PMSurcharge int    `json:"pm_surcharge,omitempty"`
}

const (
	ModelFlat     = "flat"
	ModelPerNight = "per_night"
)

// Engine is a pure calculator. No I/O, no randomness.
type Engine struct {
	rates Rates
	loc   *time.Location
}

// NewEngine builds an engine pricing in the facility's local time zone.
func NewEngine(rates Rates, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{rates: rates, loc: loc}
}

// Daycare prices a daycare visit: flat rate, independent of inputs.
func (e *Engine) Daycare() Quote {
	return Quote{Total: e.rates.DaycareFlat, Model: ModelFlat}
}

// Trial prices a trial day: flat rate, independent of inputs.
func (e *Engine) Trial() Quote {
	return Quote{Total: e.rates.TrialFlat, Model: ModelFlat}
}

// BoardingInput describes a boarding stay to price.
type BoardingInput struct {
	DogCount     int
	CheckinDate  time.Time
	CheckoutDate time.Time
	// CheckoutTimeLabel is the pickup window shown to the client,
	// e.g. "16:00 - 18:00". The first HH:MM group decides the surcharge.
	CheckoutTimeLabel string
}

// Boarding prices a stay by counting calendar-day boundaries crossed,
// ignoring time of day. The late-pickup surcharge applies to every stay
// with a PM-labelled checkout, regardless of length. Malformed inputs
// clamp to the one-night minimum rather than failing the booking flow.
func (e *Engine) Boarding(in BoardingInput) Quote {
	perNight := e.rates.BoardingOneDog
	if in.DogCount >= 2 {
		perNight = e.rates.BoardingTwoDogs
	}

	nights := e.nightsBetween(in.CheckinDate, in.CheckoutDate)

	surcharge := 0
	if hour, ok := firstLabelHour(in.CheckoutTimeLabel); ok && hour >= e.rates.LatePickupCutoff {
		surcharge = e.rates.LatePickupFee
	}

	return Quote{
		Total:       nights*perNight + surcharge,
		Model:       ModelPerNight,
		Nights:      nights,
		PerNight:    perNight,
		PMSurcharge: surcharge,
	}
}

// nightsBetween counts date boundaries crossed between check-in and
// check-out in the facility time zone, floored at one night.
func (e *Engine) nightsBetween(checkin, checkout time.Time) int {
	a := dateOnly(checkin.In(e.loc))
	b := dateOnly(checkout.In(e.loc))

	days := int(b.Sub(a).Round(24*time.Hour) / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// firstLabelHour extracts the hour of the first HH:MM group in a pickup
// window label such as "16:00 - 18:00".
func firstLabelHour(label string) (int, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false
	}

	idx := strings.IndexByte(label, ':')
	if idx < 1 {
		return 0, false
	}

	start := idx - 2
	if start < 0 || !isDigit(label[start]) {
		start = idx - 1
	}
	hour, err := strconv.Atoi(label[start:idx])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
