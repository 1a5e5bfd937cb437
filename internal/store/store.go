// Package store owns the durable state: capacity records, capacity
// overrides, reservations and bookings. All counter mutations are
// single conditional UPDATEs so concurrent callers on the same
// (service, date, slot) key serialize in the database, never in
// application code.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kennelbook/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
	path   string
}

var (
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key already used")
)

// Defaults seeds per-resource capacity defaults on first start.
type Defaults struct {
	Daycare       int
	BoardingSmall int
	BoardingLarge int
	Trial         int
}

// NewDB opens (creating if needed) the database and applies the schema.
func NewDB(path string, defaults Defaults, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode and busy timeout keep concurrent writers from erroring out.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:     db,
		logger: logger,
		path:   path,
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := instance.seedDefaults(context.Background(), defaults); err != nil {
		return nil, fmt.Errorf("failed to seed capacity defaults: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS capacity_defaults (
			service TEXT NOT NULL,
			slot TEXT NOT NULL DEFAULT '',
			capacity INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (service, slot)
		)`,

		// One row per (service, date, slot). Historical record, never deleted.
		`CREATE TABLE IF NOT EXISTS capacity_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			date TEXT NOT NULL,
			slot TEXT NOT NULL DEFAULT '',
			capacity INTEGER NOT NULL DEFAULT 0,
			reserved INTEGER NOT NULL DEFAULT 0,
			confirmed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (service, date, slot)
		)`,

		`CREATE TABLE IF NOT EXISTS capacity_overrides (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			slot TEXT NOT NULL DEFAULT '',
			date_start TEXT NOT NULL,
			date_end TEXT NOT NULL,
			capacity INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			service TEXT NOT NULL,
			date TEXT NOT NULL,
			slot TEXT NOT NULL DEFAULT '',
			user_email TEXT NOT NULL,
			dog_id TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			idempotency_key TEXT NOT NULL DEFAULT '',
			pending_payment_ref TEXT,
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			reservation_id TEXT NOT NULL,
			service TEXT NOT NULL,
			slot TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			checkout_date TEXT,
			checkout_label TEXT,
			dog_count INTEGER NOT NULL DEFAULT 1,
			user_email TEXT NOT NULL,
			total INTEGER NOT NULL,
			nights INTEGER NOT NULL DEFAULT 0,
			per_night INTEGER NOT NULL DEFAULT 0,
			pm_surcharge INTEGER NOT NULL DEFAULT 0,
			payment_ref TEXT,
			payment_status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Idempotency keys must be unique across reservations; empty means
		// the client sent none.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_idem
			ON reservations(idempotency_key) WHERE idempotency_key != ''`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_status_expiry
			ON reservations(status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_resource
			ON reservations(service, date, slot)`,

		`CREATE INDEX IF NOT EXISTS idx_overrides_resource
			ON capacity_overrides(service, slot, date_start, date_end)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_reservation ON bookings(reservation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_payment ON bookings(payment_status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) seedDefaults(ctx context.Context, d Defaults) error {
	rows := []struct {
		service  models.Service
		slot     models.Slot
		capacity int
	}{
		{models.ServiceDaycare, models.SlotNone, d.Daycare},
		{models.ServiceBoarding, models.SlotSmall, d.BoardingSmall},
		{models.ServiceBoarding, models.SlotLarge, d.BoardingLarge},
		{models.ServiceTrial, models.SlotNone, d.Trial},
	}

	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
			INSERT INTO capacity_defaults (service, slot, capacity) VALUES (?, ?, ?)
			ON CONFLICT (service, slot) DO NOTHING`,
			r.service, r.slot, r.capacity,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateDefaults replaces the per-resource default capacities.
func (db *DB) UpdateDefaults(ctx context.Context, d Defaults) error {
	rows := []struct {
		service  models.Service
		slot     models.Slot
		capacity int
	}{
		{models.ServiceDaycare, models.SlotNone, d.Daycare},
		{models.ServiceBoarding, models.SlotSmall, d.BoardingSmall},
		{models.ServiceBoarding, models.SlotLarge, d.BoardingLarge},
		{models.ServiceTrial, models.SlotNone, d.Trial},
	}

	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
			INSERT INTO capacity_defaults (service, slot, capacity, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (service, slot) DO UPDATE SET capacity = excluded.capacity, updated_at = excluded.updated_at`,
			r.service, r.slot, r.capacity, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("update default for %s: %w", models.ResourceKey(r.service, r.slot), err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Path returns the database file path (used by the backup loop).
func (db *DB) Path() string {
	return db.path
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
