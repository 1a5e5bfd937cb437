package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kennelbook/internal/models"
)

// CreateBooking persists a durable booking record with its computed price.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bookings
			(id, reservation_id, service, slot, date, checkout_date, checkout_label,
			 dog_count, user_email, total, nights, per_night, pm_surcharge,
			 payment_ref, payment_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ReservationID, b.Service, b.Slot, b.Date, b.CheckoutDate, b.CheckoutLabel,
		b.DogCount, b.UserEmail, b.Total, b.Nights, b.PerNight, b.PMSurcharge,
		b.PaymentRef, b.PaymentStatus, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func scanBooking(scan func(dest ...any) error) (*models.Booking, error) {
	var b models.Booking
	var checkoutDate, checkoutLabel, paymentRef sql.NullString
	err := scan(
		&b.ID, &b.ReservationID, &b.Service, &b.Slot, &b.Date,
		&checkoutDate, &checkoutLabel, &b.DogCount, &b.UserEmail,
		&b.Total, &b.Nights, &b.PerNight, &b.PMSurcharge,
		&paymentRef, &b.PaymentStatus, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.CheckoutDate = checkoutDate.String
	b.CheckoutLabel = checkoutLabel.String
	b.PaymentRef = paymentRef.String
	return &b, nil
}

const bookingColumns = `id, reservation_id, service, slot, date, checkout_date,
	checkout_label, dog_count, user_email, total, nights, per_night, pm_surcharge,
	payment_ref, payment_status, created_at, updated_at`

// GetBooking fetches a booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// GetBookingByPaymentRef resolves a payment intent reference to its booking.
func (db *DB) GetBookingByPaymentRef(ctx context.Context, ref string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_ref = ?`, ref)
	b, err := scanBooking(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking by payment ref: %w", err)
	}
	return b, nil
}

// SetBookingPaymentRef records the created payment intent on the booking.
func (db *DB) SetBookingPaymentRef(ctx context.Context, id, ref string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bookings SET payment_ref = ?, updated_at = ? WHERE id = ?`,
		ref, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set booking payment ref: %w", err)
	}
	return nil
}

// SetBookingPaymentStatus updates the payment status. The status guard
// keeps duplicate webhook deliveries from flapping a settled booking.
func (db *DB) SetBookingPaymentStatus(ctx context.Context, id, status string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE bookings SET payment_status = ?, updated_at = ?
		WHERE id = ? AND payment_status = ?`,
		status, time.Now(), id, models.PaymentPending,
	)
	if err != nil {
		return false, fmt.Errorf("set booking payment status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListPendingBookingsOlderThan returns bookings still pending payment
// that were created before the cutoff, for the verification poller.
func (db *DB) ListPendingBookingsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE payment_status = ? AND created_at < ? AND payment_ref IS NOT NULL AND payment_ref != ''
		ORDER BY created_at ASC LIMIT ?`,
		models.PaymentPending, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
