package store

import (
	"context"
	"fmt"

	"kennelbook/internal/models"
)

// CreateOverride records an admin capacity override for a date range.
func (db *DB) CreateOverride(ctx context.Context, o *models.CapacityOverride) (int64, error) {
	if o.DateStart > o.DateEnd {
		return 0, fmt.Errorf("date_start %q after date_end %q", o.DateStart, o.DateEnd)
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO capacity_overrides (service, slot, date_start, date_end, capacity)
		VALUES (?, ?, ?, ?, ?)`,
		o.Service, o.Slot, o.DateStart, o.DateEnd, o.Capacity,
	)
	if err != nil {
		return 0, fmt.Errorf("create override: %w", err)
	}
	return result.LastInsertId()
}

// DeleteOverride removes an override. Availability reverts to the
// default (or the next-best override) on the next query.
func (db *DB) DeleteOverride(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM capacity_overrides WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetOverrides removes every override, returning the count deleted.
func (db *DB) ResetOverrides(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM capacity_overrides`)
	if err != nil {
		return 0, fmt.Errorf("reset overrides: %w", err)
	}
	return result.RowsAffected()
}

// ListOverrides returns all overrides, newest first.
func (db *DB) ListOverrides(ctx context.Context) ([]models.CapacityOverride, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, service, slot, date_start, date_end, capacity, created_at
		FROM capacity_overrides ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []models.CapacityOverride
	for rows.Next() {
		var o models.CapacityOverride
		if err := rows.Scan(&o.ID, &o.Service, &o.Slot, &o.DateStart, &o.DateEnd, &o.Capacity, &o.CreatedAt); err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}
