package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kennelbook/internal/models"
)

// EffectiveCapacity resolves the capacity that applies to a resource on
// a date: the matching override with the narrowest date range wins,
// ties broken by most recently created; otherwise the service default.
func (db *DB) EffectiveCapacity(ctx context.Context, service models.Service, slot models.Slot, date string) (int, error) {
	var capacity int
	err := db.QueryRowContext(ctx, `
		SELECT capacity FROM capacity_overrides
		WHERE service = ? AND slot = ? AND date_start <= ? AND date_end >= ?
		ORDER BY julianday(date_end) - julianday(date_start) ASC, created_at DESC, id DESC
		LIMIT 1`,
		service, slot, date, date,
	).Scan(&capacity)
	if err == nil {
		return capacity, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup override: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT capacity FROM capacity_defaults WHERE service = ? AND slot = ?`,
		service, slot,
	).Scan(&capacity)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup default: %w", err)
	}
	return capacity, nil
}

// GetOrCreate returns the capacity record for (service, date, slot),
// creating it lazily. The stored capacity is refreshed from the
// effective value on every call so removing an override reverts to the
// default on the next touch.
func (db *DB) GetOrCreate(ctx context.Context, service models.Service, slot models.Slot, date string) (*models.CapacityRecord, error) {
	capacity, err := db.EffectiveCapacity(ctx, service, slot, date)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO capacity_records (service, date, slot, capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (service, date, slot) DO UPDATE SET capacity = excluded.capacity`,
		service, date, slot, capacity, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert capacity record: %w", err)
	}

	return db.getRecord(ctx, service, slot, date)
}

func (db *DB) getRecord(ctx context.Context, service models.Service, slot models.Slot, date string) (*models.CapacityRecord, error) {
	var rec models.CapacityRecord
	err := db.QueryRowContext(ctx, `
		SELECT id, service, date, slot, capacity, reserved, confirmed, created_at, updated_at
		FROM capacity_records WHERE service = ? AND date = ? AND slot = ?`,
		service, date, slot,
	).Scan(
		&rec.ID, &rec.Service, &rec.Date, &rec.Slot,
		&rec.Capacity, &rec.Reserved, &rec.Confirmed,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get capacity record: %w", err)
	}
	return &rec, nil
}

// TryReserve atomically claims n units of capacity. The capacity check
// and the increment are one conditional UPDATE; concurrent callers on
// the same key see exactly one winner for the last unit.
func (db *DB) TryReserve(ctx context.Context, service models.Service, slot models.Slot, date string, n int) error {
	if _, err := db.GetOrCreate(ctx, service, slot, date); err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE capacity_records
		SET reserved = reserved + ?, updated_at = ?
		WHERE service = ? AND date = ? AND slot = ?
		  AND reserved + confirmed + ? <= capacity`,
		n, time.Now(), service, date, slot, n,
	)
	if err != nil {
		return fmt.Errorf("try reserve: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCapacityExceeded
	}
	return nil
}

// Release returns n units of reserved capacity, clamped at zero to
// defend against double-release. Confirmed moves happen through
// CommitHold so the counter and the hold status change together.
func (db *DB) Release(ctx context.Context, service models.Service, slot models.Slot, date string, n int) error {
	_, err := db.ExecContext(ctx, `
		UPDATE capacity_records
		SET reserved = MAX(reserved - ?, 0), updated_at = ?
		WHERE service = ? AND date = ? AND slot = ?`,
		n, time.Now(), service, date, slot,
	)
	if err != nil {
		return fmt.Errorf("release capacity: %w", err)
	}
	return nil
}

// GetUsage returns the read-only usage view for one resource/date
// without creating a record. Missing records read as untouched capacity.
func (db *DB) GetUsage(ctx context.Context, service models.Service, slot models.Slot, date string) (models.ResourceUsage, error) {
	rec, err := db.getRecord(ctx, service, slot, date)
	if err == ErrNotFound {
		capacity, err := db.EffectiveCapacity(ctx, service, slot, date)
		if err != nil {
			return models.ResourceUsage{}, err
		}
		return models.ResourceUsage{Capacity: capacity, Available: capacity}, nil
	}
	if err != nil {
		return models.ResourceUsage{}, err
	}

	// Reads always reflect the current effective capacity, so an
	// override added or removed after the record was created shows up
	// on the next query.
	capacity, err := db.EffectiveCapacity(ctx, service, slot, date)
	if err != nil {
		return models.ResourceUsage{}, err
	}
	rec.Capacity = capacity

	return models.ResourceUsage{
		Capacity:  rec.Capacity,
		Reserved:  rec.Reserved,
		Confirmed: rec.Confirmed,
		Available: rec.Available(),
	}, nil
}
