package payment

import (
	"context"
	"errors"
	"fmt"

	"kennelbook/internal/alert"
	"kennelbook/internal/ledger"
	"kennelbook/internal/metrics"
	"kennelbook/internal/models"

	"github.com/rs/zerolog"
)

// ErrUnknownRef signals an event for a payment ref no booking carries.
var ErrUnknownRef = errors.New("unknown payment reference")

// ReservationLedger is the hold-settlement surface the reconciler needs.
type ReservationLedger interface {
	Commit(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

// BookingStore reads and settles booking payment state.
type BookingStore interface {
	GetBookingByPaymentRef(ctx context.Context, ref string) (*models.Booking, error)
	SetBookingPaymentStatus(ctx context.Context, id, status string) (bool, error)
}

// Reconciler applies payment outcomes to holds. Event order and delivery
// count are untrusted: duplicates must converge and a payment that lands
// after its hold expired must never be silently dropped.
type Reconciler struct {
	ledger   ReservationLedger
	bookings BookingStore
	provider Provider
	notifier alert.Notifier
	logger   *zerolog.Logger
}

func NewReconciler(l ReservationLedger, b BookingStore, p Provider, n alert.Notifier, logger *zerolog.Logger) *Reconciler {
	if n == nil {
		n = alert.Nop{}
	}
	return &Reconciler{ledger: l, bookings: b, provider: p, notifier: n, logger: logger}
}

// Event is an inbound payment notification. Only the ref is trusted;
// the status is re-verified against the provider before acting.
type Event struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

// HandleEvent verifies the event against the provider and settles the
// booking and its hold accordingly.
func (r *Reconciler) HandleEvent(ctx context.Context, ev Event) error {
	booking, err := r.bookings.GetBookingByPaymentRef(ctx, ev.Ref)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownRef, ev.Ref)
	}

	status, err := r.provider.VerifyStatus(ctx, ev.Ref)
	if err != nil {
		metrics.IncPaymentEvent("verify_error")
		return fmt.Errorf("verify payment %s: %w", ev.Ref, err)
	}

	switch status {
	case StatusPaid:
		return r.settlePaid(ctx, booking)
	case StatusFailed:
		return r.settleFailed(ctx, booking)
	default:
		// Still pending at the provider; the poller will catch it.
		metrics.IncPaymentEvent("pending")
		r.logger.Debug().Str("ref", ev.Ref).Msg("payment still pending, ignoring event")
		return nil
	}
}

func (r *Reconciler) settlePaid(ctx context.Context, b *models.Booking) error {
	err := r.ledger.Commit(ctx, b.ReservationID)
	switch {
	case err == nil:
		// Normal path.
	case errors.Is(err, ledger.ErrAlreadyTerminal):
		// The customer paid but the hold lapsed or was released in the
		// meantime. Capacity may now be oversold for that day; staff
		// have to resolve it by hand.
		metrics.IncReconciliationConflict()
		r.logger.Error().
			Str("booking_id", b.ID).
			Str("reservation_id", b.ReservationID).
			Str("payment_ref", b.PaymentRef).
			Msg("payment received for terminal hold, manual reconciliation required")
		r.notify(ctx, fmt.Sprintf(
			"⚠️ Payment %s settled for booking %s but its hold %s already expired. Manual reconciliation needed.",
			b.PaymentRef, b.ID, b.ReservationID,
		))
	default:
		return fmt.Errorf("commit hold %s: %w", b.ReservationID, err)
	}

	changed, err := r.bookings.SetBookingPaymentStatus(ctx, b.ID, models.PaymentPaid)
	if err != nil {
		return err
	}
	if changed {
		metrics.IncPaymentEvent("paid")
		r.logger.Info().
			Str("booking_id", b.ID).
			Str("payment_ref", b.PaymentRef).
			Int("total", b.Total).
			Msg("booking paid")
	}
	return nil
}

func (r *Reconciler) settleFailed(ctx context.Context, b *models.Booking) error {
	if err := r.ledger.Release(ctx, b.ReservationID); err != nil {
		return fmt.Errorf("release hold %s: %w", b.ReservationID, err)
	}

	changed, err := r.bookings.SetBookingPaymentStatus(ctx, b.ID, models.PaymentFailed)
	if err != nil {
		return err
	}
	if changed {
		metrics.IncPaymentEvent("failed")
		r.logger.Info().
			Str("booking_id", b.ID).
			Str("payment_ref", b.PaymentRef).
			Msg("payment failed, hold released")
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, message string) {
	if err := r.notifier.Notify(ctx, message); err != nil {
		r.logger.Error().Err(err).Msg("failed to deliver reconciliation alert")
	}
}
