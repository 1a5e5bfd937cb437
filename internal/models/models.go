package models

import (
	"fmt"
	"time"
)

// Service identifies a bookable service type.
type Service string

const (
	ServiceDaycare  Service = "daycare"
	ServiceBoarding Service = "boarding"
	ServiceTrial    Service = "trial"
)

// Slot subdivides a service into separately capacity-managed resources.
// Only boarding uses slots (dog size determines the kennel pool).
type Slot string

const (
	SlotNone  Slot = ""
	SlotSmall Slot = "small"
	SlotLarge Slot = "large"
)

// Reservation status values. Active is the only non-terminal state.
const (
	StatusActive    = "active"
	StatusCommitted = "committed"
	StatusReleased  = "released"
	StatusExpired   = "expired"
)

// ValidateResource checks that the service/slot pair names a real resource.
func ValidateResource(service Service, slot Slot) error {
	switch service {
	case ServiceBoarding:
		if slot != SlotSmall && slot != SlotLarge {
			return fmt.Errorf("boarding requires slot %q or %q", SlotSmall, SlotLarge)
		}
	case ServiceDaycare, ServiceTrial:
		if slot != SlotNone {
			return fmt.Errorf("service %q does not take a slot", service)
		}
	default:
		return fmt.Errorf("unknown service %q", service)
	}
	return nil
}

// ResourceKey returns the display key for a (service, slot) pair,
// e.g. "daycare" or "boarding:small".
func ResourceKey(service Service, slot Slot) string {
	if slot == SlotNone {
		return string(service)
	}
	return string(service) + ":" + string(slot)
}

// CapacityRecord tracks per-(service, date, slot) slot usage.
// Invariant: reserved + confirmed <= capacity after every committed mutation.
type CapacityRecord struct {
	ID        int64     `json:"id"`
	Service   Service   `json:"service"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Slot      Slot      `json:"slot,omitempty"`
	Capacity  int       `json:"capacity"`
	Reserved  int       `json:"reserved"`
	Confirmed int       `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available returns remaining capacity, floored at zero for display.
func (r *CapacityRecord) Available() int {
	avail := r.Capacity - r.Reserved - r.Confirmed
	if avail < 0 {
		return 0
	}
	return avail
}

// CapacityOverride supersedes the service default capacity over a date range.
type CapacityOverride struct {
	ID        int64     `json:"id"`
	Service   Service   `json:"service"`
	Slot      Slot      `json:"slot,omitempty"`
	DateStart string    `json:"date_start"` // YYYY-MM-DD, inclusive
	DateEnd   string    `json:"date_end"`   // YYYY-MM-DD, inclusive
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether the override applies to the given date.
func (o *CapacityOverride) Covers(date string) bool {
	return date >= o.DateStart && date <= o.DateEnd
}

// Reservation is a time-limited hold on one unit of capacity.
type Reservation struct {
	ID                string    `json:"id"`
	Service           Service   `json:"service"`
	Date              string    `json:"date"`
	Slot              Slot      `json:"slot,omitempty"`
	UserEmail         string    `json:"user_email"`
	DogID             string    `json:"dog_id,omitempty"`
	Status            string    `json:"status"`
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
	PendingPaymentRef string    `json:"pending_payment_ref,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsTerminal reports whether the reservation can no longer transition.
func (r *Reservation) IsTerminal() bool {
	return r.Status != StatusActive
}

// Expired reports whether an active hold has outlived its TTL.
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == StatusActive && r.ExpiresAt.Before(now)
}

// Booking payment status values.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// Booking is the durable record created once a reservation succeeds.
// Amounts are whole currency units; conversion to cents happens only
// at the payment intent boundary.
type Booking struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	Service       Service   `json:"service"`
	Slot          Slot      `json:"slot,omitempty"`
	Date          string    `json:"date"`
	CheckoutDate  string    `json:"checkout_date,omitempty"` // boarding only
	CheckoutLabel string    `json:"checkout_label,omitempty"`
	DogCount      int       `json:"dog_count"`
	UserEmail     string    `json:"user_email"`
	Total         int       `json:"total"`
	Nights        int       `json:"nights,omitempty"`
	PerNight      int       `json:"per_night,omitempty"`
	PMSurcharge   int       `json:"pm_surcharge,omitempty"`
	PaymentRef    string    `json:"payment_ref,omitempty"`
	PaymentStatus string    `json:"payment_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ResourceUsage is one resource's row in the capacity overview.
type ResourceUsage struct {
	Capacity  int `json:"capacity"`
	Reserved  int `json:"reserved"`
	Confirmed int `json:"confirmed"`
	Available int `json:"available"`
}

// Add sums another usage into this one field by field.
func (u *ResourceUsage) Add(other ResourceUsage) {
	u.Capacity += other.Capacity
	u.Reserved += other.Reserved
	u.Confirmed += other.Confirmed
	u.Available += other.Available
}

// UtilisationPct returns occupied capacity as a rounded percentage.
// Zero capacity reads as 0%, never a division by zero.
func (u *ResourceUsage) UtilisationPct() int {
	if u.Capacity == 0 {
		return 0
	}
	occupied := u.Reserved + u.Confirmed
	return int(float64(occupied)/float64(u.Capacity)*100 + 0.5)
}

// Overview is the read-only capacity projection for one date.
type Overview struct {
	Date      string                   `json:"date"`
	Resources map[string]ResourceUsage `json:"resources"`
	Aggregate struct {
		Boarding ResourceUsage `json:"boarding"`
	} `json:"aggregate"`
	Totals struct {
		Capacity       int `json:"capacity"`
		Reserved       int `json:"reserved"`
		Confirmed      int `json:"confirmed"`
		Available      int `json:"available"`
		UtilisationPct int `json:"utilisation_pct"`
	} `json:"totals"`
}
