package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
)

var ErrNotFound = errors.New("not found")

const deviceColumns = `id, radio_type, name, vendor, first_seen, last_seen, detection_count, location_count,
	score, threat_level, last_rssi, probed_ssids_json, tracker_kind, whitelisted, flagged`

func (r *Repository) FindDevice(ctx context.Context, id string) (model.Device, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, false, nil
	}
	if err != nil {
		return model.Device{}, false, err
	}
	return device, true, nil
}

// UpsertDevice inserts or refreshes a device. The whitelisted and flagged
// columns are only written on insert; SetDeviceFlags owns them afterwards.
func (r *Repository) UpsertDevice(ctx context.Context, d model.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			radio_type=excluded.radio_type,
			name=COALESCE(excluded.name, devices.name),
			vendor=COALESCE(excluded.vendor, devices.vendor),
			first_seen=excluded.first_seen,
			last_seen=excluded.last_seen,
			detection_count=excluded.detection_count,
			location_count=excluded.location_count,
			score=excluded.score,
			threat_level=excluded.threat_level,
			last_rssi=excluded.last_rssi,
			probed_ssids_json=excluded.probed_ssids_json,
			tracker_kind=COALESCE(excluded.tracker_kind, devices.tracker_kind)`,
		d.ID,
		string(d.RadioType),
		nullString(d.Name),
		nullString(d.Vendor),
		formatTime(d.FirstSeen),
		formatTime(d.LastSeen),
		d.DetectionCount,
		d.LocationCount,
		d.Score,
		string(levelOrLow(d.ThreatLevel)),
		d.LastRSSI,
		encodeStrings(d.ProbedSSIDs),
		nullString(string(d.TrackerKind)),
		d.Whitelisted,
		d.Flagged,
	)
	return err
}

func (r *Repository) ListDevices(ctx context.Context, filter detection.ListFilter) ([]model.Device, error) {
	where := []string{}
	args := []any{}
	if filter.MinScore > 0 {
		where = append(where, "score >= ?")
		args = append(args, filter.MinScore)
	}
	if filter.MinSignal != nil {
		where = append(where, "last_rssi >= ?")
		args = append(args, *filter.MinSignal)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, "(id LIKE ? OR name LIKE ? OR vendor LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY score DESC, last_seen DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, device)
	}
	return items, rows.Err()
}

func (r *Repository) SetDeviceFlags(ctx context.Context, id string, whitelisted, flagged *bool) error {
	sets := []string{}
	args := []any{}
	if whitelisted != nil {
		sets = append(sets, "whitelisted = ?")
		args = append(args, *whitelisted)
	}
	if flagged != nil {
		sets = append(sets, "flagged = ?")
		args = append(args, *flagged)
	}
	if len(sets) == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, "UPDATE devices SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteDevicesSeenBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM devices
		WHERE last_seen < ? AND whitelisted = 0 AND flagged = 0`,
		formatTime(before),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) Stats(ctx context.Context, sightingsSince time.Time, suspiciousAbove int) (model.Stats, error) {
	var stats model.Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM devices),
			(SELECT COUNT(*) FROM devices WHERE score > ?),
			(SELECT COUNT(*) FROM sightings WHERE ts >= ?),
			(SELECT COUNT(*) FROM alerts WHERE acknowledged = 0)`,
		suspiciousAbove,
		formatTime(sightingsSince),
	).Scan(&stats.TotalDevices, &stats.SuspiciousDevices, &stats.RecentSightings, &stats.UnacknowledgedAlerts)
	return stats, err
}

func scanDevice(row rowScanner) (model.Device, error) {
	var (
		d                          model.Device
		radioType, level, ssidsRaw string
		firstSeen, lastSeen        string
		name, vendor, trackerKind  sql.NullString
	)
	if err := row.Scan(
		&d.ID, &radioType, &name, &vendor, &firstSeen, &lastSeen, &d.DetectionCount, &d.LocationCount,
		&d.Score, &level, &d.LastRSSI, &ssidsRaw, &trackerKind, &d.Whitelisted, &d.Flagged,
	); err != nil {
		return model.Device{}, err
	}
	d.RadioType = model.RadioType(radioType)
	d.ThreatLevel = model.ThreatLevel(level)
	d.Name = fromNull(name)
	d.Vendor = fromNull(vendor)
	d.TrackerKind = model.TrackerKind(fromNull(trackerKind))
	d.FirstSeen = parseTime(firstSeen)
	d.LastSeen = parseTime(lastSeen)
	d.ProbedSSIDs = decodeStrings(ssidsRaw)
	return d, nil
}

func levelOrLow(level model.ThreatLevel) model.ThreatLevel {
	if level == "" {
		return model.ThreatLevelLow
	}
	return level
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeStrings(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}
