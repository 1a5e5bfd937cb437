package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kennelbook/internal/models"
)

const reservationColumns = `id, service, date, slot, user_email, dog_id, status,
	idempotency_key, pending_payment_ref, expires_at, created_at, updated_at`

func scanReservation(row *sql.Row) (*models.Reservation, error) {
	var r models.Reservation
	var dogID, paymentRef sql.NullString
	err := row.Scan(
		&r.ID, &r.Service, &r.Date, &r.Slot, &r.UserEmail, &dogID, &r.Status,
		&r.IdempotencyKey, &paymentRef, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.DogID = dogID.String
	r.PendingPaymentRef = paymentRef.String
	return &r, nil
}

// InsertReservation persists a new active hold. A duplicate idempotency
// key maps to ErrIdempotencyConflict so the caller can reconcile.
func (db *DB) InsertReservation(ctx context.Context, r *models.Reservation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO reservations
			(id, service, date, slot, user_email, dog_id, status, idempotency_key, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Service, r.Date, r.Slot, r.UserEmail, r.DogID,
		r.Status, r.IdempotencyKey, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetReservation fetches a hold by id.
func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// FindReservationByIdempotencyKey returns the hold for a client key, or
// nil when none exists.
func (db *DB) FindReservationByIdempotencyKey(ctx context.Context, key string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = ?`, key)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reservation by key: %w", err)
	}
	return r, nil
}

// ReleaseHold moves an active hold to newStatus (released or expired)
// and returns its reserved unit to the capacity pool, both in one
// transaction. Returns false when the hold already left the active
// state, ErrNotFound when no such hold exists.
func (db *DB) ReleaseHold(ctx context.Context, id, newStatus string) (bool, error) {
	return db.settleHold(ctx, id, newStatus, `
		UPDATE capacity_records
		SET reserved = MAX(reserved - 1, 0), updated_at = ?
		WHERE service = ? AND date = ? AND slot = ?`)
}

// CommitHold moves an active hold to committed and converts its
// reserved unit into confirmed, both in one transaction. Returns false
// when the hold already left the active state.
func (db *DB) CommitHold(ctx context.Context, id string) (bool, error) {
	return db.settleHold(ctx, id, models.StatusCommitted, `
		UPDATE capacity_records
		SET reserved = MAX(reserved - 1, 0), confirmed = confirmed + 1, updated_at = ?
		WHERE service = ? AND date = ? AND slot = ?`)
}

// settleHold runs the status transition and the counter adjustment in
// a single transaction. The status guard in the WHERE clause keeps the
// transition first-wins; a counter failure rolls the transition back,
// so a retried settle finds the hold still active and completes both
// halves instead of finding it terminal with the counter stuck.
func (db *DB) settleHold(ctx context.Context, id, newStatus, counterQuery string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback()

	var service, date, slot string
	err = tx.QueryRowContext(ctx,
		`SELECT service, date, slot FROM reservations WHERE id = ?`, id,
	).Scan(&service, &date, &slot)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("settle lookup: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		newStatus, time.Now(), id, models.StatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("transition reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, counterQuery, time.Now(), service, date, slot); err != nil {
		return false, fmt.Errorf("settle counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit settle: %w", err)
	}
	return true, nil
}

// SetPendingPaymentRef attaches the payment intent reference to a hold.
func (db *DB) SetPendingPaymentRef(ctx context.Context, id, ref string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE reservations SET pending_payment_ref = ?, updated_at = ? WHERE id = ?`,
		ref, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set payment ref: %w", err)
	}
	return nil
}

// ListExpiredActive returns active holds whose TTL has lapsed, oldest
// first, for the sweeper.
func (db *DB) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at ASC LIMIT ?`,
		models.StatusActive, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		var r models.Reservation
		var dogID, paymentRef sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Service, &r.Date, &r.Slot, &r.UserEmail, &dogID, &r.Status,
			&r.IdempotencyKey, &paymentRef, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		r.DogID = dogID.String
		r.PendingPaymentRef = paymentRef.String
		out = append(out, r)
	}
	return out, rows.Err()
}
