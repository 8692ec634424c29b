package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	repo := &Repository{db: db, logger: logger}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			radio_type TEXT NOT NULL,
			name TEXT,
			vendor TEXT,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			detection_count INTEGER NOT NULL DEFAULT 0,
			location_count INTEGER NOT NULL DEFAULT 0,
			score INTEGER NOT NULL DEFAULT 0,
			threat_level TEXT NOT NULL DEFAULT 'LOW',
			last_rssi INTEGER NOT NULL DEFAULT 0,
			probed_ssids_json TEXT NOT NULL DEFAULT '[]',
			tracker_kind TEXT,
			whitelisted INTEGER NOT NULL DEFAULT 0,
			flagged INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS sightings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			accuracy REAL NOT NULL DEFAULT 0,
			rssi INTEGER NOT NULL,
			radio_type TEXT NOT NULL,
			probed_ssid TEXT,
			ap_ssid TEXT,
			channel INTEGER NOT NULL DEFAULT 0,
			frequency INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			device_name TEXT,
			radio_type TEXT NOT NULL,
			ts TEXT NOT NULL,
			score INTEGER NOT NULL,
			level TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			accuracy REAL NOT NULL DEFAULT 0,
			sighting_count INTEGER NOT NULL,
			location_count INTEGER NOT NULL,
			follow_duration_sec INTEGER NOT NULL,
			tracker_kind TEXT,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			action TEXT NOT NULL DEFAULT 'NONE'
		);`,
		`CREATE TABLE IF NOT EXISTS location_clusters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			radius_meters REAL NOT NULL,
			visit_count INTEGER NOT NULL,
			first_visit TEXT NOT NULL,
			last_visit TEXT NOT NULL,
			label TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS calibration_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			exposure_minutes REAL NOT NULL,
			streak_minutes REAL NOT NULL,
			distinct_locations INTEGER NOT NULL,
			avg_signal REAL NOT NULL,
			score INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_device_ts ON sightings(device_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_ts ON sightings(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_device_ts ON alerts(device_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen);`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func fromNull(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

type rowScanner interface {
	Scan(dest ...any) error
}
