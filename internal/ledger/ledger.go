// Package ledger owns the hold lifecycle: reserve, release, commit and
// expiry. A hold leaves the active state exactly once; every transition
// goes through the store's status-guarded update.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kennelbook/internal/models"
	"kennelbook/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyTerminal signals a commit against a hold that already
	// expired or was released. The payment side must surface this for
	// manual reconciliation, never swallow it.
	ErrAlreadyTerminal = errors.New("reservation already terminal")

	ErrValidation = errors.New("validation failed")
)

// Store is the durable-state surface the ledger drives. ReleaseHold and
// CommitHold settle a hold atomically: status transition and counter
// adjustment succeed or fail together, so a failed settle leaves the
// hold active and safe to retry.
type Store interface {
	TryReserve(ctx context.Context, service models.Service, slot models.Slot, date string, n int) error
	Release(ctx context.Context, service models.Service, slot models.Slot, date string, n int) error

	InsertReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	FindReservationByIdempotencyKey(ctx context.Context, key string) (*models.Reservation, error)
	ReleaseHold(ctx context.Context, id, newStatus string) (bool, error)
	CommitHold(ctx context.Context, id string) (bool, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
}

// Ledger coordinates holds against the availability store.
type Ledger struct {
	store  Store
	ttl    time.Duration
	loc    *time.Location
	logger *zerolog.Logger
}

func New(st Store, ttl time.Duration, loc *time.Location, logger *zerolog.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{store: st, ttl: ttl, loc: loc, logger: logger}
}

// ReserveInput describes a reserve request.
type ReserveInput struct {
	Service        models.Service
	Slot           models.Slot
	Date           string // YYYY-MM-DD
	UserEmail      string
	DogID          string
	IdempotencyKey string
}

func (l *Ledger) validate(in ReserveInput) error {
	if err := models.ValidateResource(in.Service, in.Slot); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.UserEmail == "" {
		return fmt.Errorf("%w: user_email is required", ErrValidation)
	}

	day, err := time.ParseInLocation("2006-01-02", in.Date, l.loc)
	if err != nil {
		return fmt.Errorf("%w: invalid date format; expected YYYY-MM-DD", ErrValidation)
	}

	today := time.Now().In(l.loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, l.loc)
	if day.Before(today) {
		return fmt.Errorf("%w: cannot book in the past", ErrValidation)
	}
	return nil
}

// Reserve creates a hold if capacity allows. Retried requests carrying
// the same idempotency key get the original hold back and consume no
// extra capacity.
func (l *Ledger) Reserve(ctx context.Context, in ReserveInput) (*models.Reservation, error) {
	if err := l.validate(in); err != nil {
		return nil, err
	}

	now := time.Now()

	if in.IdempotencyKey != "" {
		existing, err := l.store.FindReservationByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if reusable(existing, now) {
				return existing, nil
			}
			// The key points at a dead hold; the client must start over.
			return nil, store.ErrIdempotencyConflict
		}
	}

	if err := l.store.TryReserve(ctx, in.Service, in.Slot, in.Date, 1); err != nil {
		return nil, err
	}

	r := &models.Reservation{
		ID:             uuid.NewString(),
		Service:        in.Service,
		Slot:           in.Slot,
		Date:           in.Date,
		UserEmail:      in.UserEmail,
		DogID:          in.DogID,
		Status:         models.StatusActive,
		IdempotencyKey: in.IdempotencyKey,
		ExpiresAt:      now.Add(l.ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := l.store.InsertReservation(ctx, r); err != nil {
		// The reserved unit must not leak whatever went wrong with the insert.
		if relErr := l.store.Release(ctx, in.Service, in.Slot, in.Date, 1); relErr != nil {
			l.logger.Error().Err(relErr).
				Str("service", string(in.Service)).
				Str("date", in.Date).
				Msg("failed to release capacity after insert failure")
		}

		if errors.Is(err, store.ErrIdempotencyConflict) {
			// Two identical retries raced past the lookup; the unique
			// constraint picked a winner. Hand back the winner's hold.
			existing, findErr := l.store.FindReservationByIdempotencyKey(ctx, in.IdempotencyKey)
			if findErr == nil && existing != nil && reusable(existing, now) {
				return existing, nil
			}
		}
		return nil, err
	}

	return r, nil
}

// reusable reports whether an existing hold can answer a retried
// request: still active and unexpired, or already paid for.
func reusable(r *models.Reservation, now time.Time) bool {
	switch r.Status {
	case models.StatusActive:
		return !r.ExpiresAt.Before(now)
	case models.StatusCommitted:
		return true
	default:
		return false
	}
}

// Release frees a hold. Releasing an already-terminal hold is a safe
// no-op so network retries never error.
func (l *Ledger) Release(ctx context.Context, id string) error {
	won, err := l.store.ReleaseHold(ctx, id, models.StatusReleased)
	if err != nil {
		return err
	}
	if !won {
		// Another caller (or the sweeper) got there first.
		return nil
	}

	l.logger.Info().Str("reservation_id", id).Msg("reservation released")
	return nil
}

// Commit converts a hold's reserved capacity into confirmed capacity.
// Committing an already-committed hold succeeds idempotently; a hold
// that expired or was released returns ErrAlreadyTerminal.
func (l *Ledger) Commit(ctx context.Context, id string) error {
	won, err := l.store.CommitHold(ctx, id)
	if err != nil {
		return err
	}
	if !won {
		// Lost the race; settle against whatever state won.
		r, err := l.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == models.StatusCommitted {
			return nil
		}
		return ErrAlreadyTerminal
	}

	l.logger.Info().Str("reservation_id", id).Msg("reservation committed")
	return nil
}

// SweepExpired expires every active hold whose TTL lapsed before now
// and releases its capacity. Safe to run from concurrent sweepers: the
// transition guard ensures each hold is expired exactly once.
func (l *Ledger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	const batchSize = 500

	expired, err := l.store.ListExpiredActive(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range expired {
		r := &expired[i]

		won, err := l.store.ReleaseHold(ctx, r.ID, models.StatusExpired)
		if err != nil {
			l.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to expire hold")
			continue
		}
		if !won {
			continue
		}

		l.logger.Info().
			Str("reservation_id", r.ID).
			Str("service", string(r.Service)).
			Str("date", r.Date).
			Time("expired_at", r.ExpiresAt).
			Msg("hold expired")
		count++
	}

	return count, nil
}

// Get exposes a hold for read-only callers (booking creation, tests).
func (l *Ledger) Get(ctx context.Context, id string) (*models.Reservation, error) {
	return l.store.GetReservation(ctx, id)
}

// TTL returns the configured hold lifetime.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}
