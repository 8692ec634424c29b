package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/micro-ha/follower-watch/internal/model"
)

func (r *Repository) InsertSighting(ctx context.Context, s model.Sighting) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sightings (device_id, ts, latitude, longitude, accuracy, rssi, radio_type, probed_ssid, ap_ssid, channel, frequency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.DeviceID,
		formatTime(s.Timestamp),
		s.Position.Latitude,
		s.Position.Longitude,
		s.Position.Accuracy,
		s.RSSI,
		string(s.RadioType),
		nullString(s.ProbedSSID),
		nullString(s.APSSID),
		s.Channel,
		s.Frequency,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SightingsSince returns a device's sightings at or after since, oldest first.
func (r *Repository) SightingsSince(ctx context.Context, deviceID string, since time.Time) ([]model.Sighting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, ts, latitude, longitude, accuracy, rssi, radio_type, probed_ssid, ap_ssid, channel, frequency
		FROM sightings
		WHERE device_id = ? AND ts >= ?
		ORDER BY ts ASC, id ASC`,
		deviceID,
		formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.Sighting{}
	for rows.Next() {
		var (
			s                  model.Sighting
			ts, radioType      string
			probedSSID, apSSID sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &s.DeviceID, &ts, &s.Position.Latitude, &s.Position.Longitude, &s.Position.Accuracy,
			&s.RSSI, &radioType, &probedSSID, &apSSID, &s.Channel, &s.Frequency,
		); err != nil {
			return nil, err
		}
		s.Timestamp = parseTime(ts)
		s.RadioType = model.RadioType(radioType)
		s.ProbedSSID = fromNull(probedSSID)
		s.APSSID = fromNull(apSSID)
		items = append(items, s)
	}
	return items, rows.Err()
}

// DistinctLocationCount counts the ~11 m grid cells a device was ever seen in.
func (r *Repository) DistinctLocationCount(ctx context.Context, deviceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT DISTINCT CAST(latitude * 10000 AS INTEGER), CAST(longitude * 10000 AS INTEGER)
			FROM sightings
			WHERE device_id = ?
		)`,
		deviceID,
	).Scan(&count)
	return count, err
}

func (r *Repository) DeleteSightingsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sightings
		WHERE ts < ?
		AND device_id NOT IN (SELECT id FROM devices WHERE whitelisted = 1 OR flagged = 1)`,
		formatTime(before),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
