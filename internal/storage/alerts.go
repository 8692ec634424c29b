package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
)

const alertColumns = `id, device_id, device_name, radio_type, ts, score, level, latitude, longitude, accuracy,
	sighting_count, location_count, follow_duration_sec, tracker_kind, acknowledged, action`

func (r *Repository) InsertAlert(ctx context.Context, a model.Alert) (int64, error) {
	action := a.Action
	if action == "" {
		action = model.AlertActionNone
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (device_id, device_name, radio_type, ts, score, level, latitude, longitude, accuracy,
			sighting_count, location_count, follow_duration_sec, tracker_kind, acknowledged, action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DeviceID,
		nullString(a.DeviceName),
		string(a.RadioType),
		formatTime(a.Timestamp),
		a.Score,
		string(levelOrLow(a.Level)),
		a.Position.Latitude,
		a.Position.Longitude,
		a.Position.Accuracy,
		a.SightingCount,
		a.LocationCount,
		a.FollowDurationSec,
		nullString(string(a.TrackerKind)),
		a.Acknowledged,
		string(action),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) LatestAlertForDevice(ctx context.Context, deviceID string) (model.Alert, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE device_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT 1`, deviceID)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, false, nil
	}
	if err != nil {
		return model.Alert{}, false, err
	}
	return alert, true, nil
}

func (r *Repository) ListAlerts(ctx context.Context, filter detection.AlertFilter) ([]model.Alert, error) {
	where := []string{}
	args := []any{}
	if filter.UnacknowledgedOnly {
		where = append(where, "acknowledged = 0")
	}
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, alert)
	}
	return items, rows.Err()
}

func (r *Repository) AcknowledgeAlert(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAlertAction records the user's resolution and acknowledges the alert.
func (r *Repository) SetAlertAction(ctx context.Context, id int64, action model.AlertAction) (model.Alert, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Alert{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE alerts SET action = ?, acknowledged = 1 WHERE id = ?`, string(action), id)
	if err != nil {
		return model.Alert{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return model.Alert{}, ErrNotFound
	}
	alert, err := scanAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if err != nil {
		return model.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Alert{}, err
	}
	return alert, nil
}

func scanAlert(row rowScanner) (model.Alert, error) {
	var (
		a                        model.Alert
		radioType, level, action string
		ts                       string
		deviceName, trackerKind  sql.NullString
	)
	if err := row.Scan(
		&a.ID, &a.DeviceID, &deviceName, &radioType, &ts, &a.Score, &level,
		&a.Position.Latitude, &a.Position.Longitude, &a.Position.Accuracy,
		&a.SightingCount, &a.LocationCount, &a.FollowDurationSec, &trackerKind, &a.Acknowledged, &action,
	); err != nil {
		return model.Alert{}, err
	}
	a.DeviceName = fromNull(deviceName)
	a.RadioType = model.RadioType(radioType)
	a.Timestamp = parseTime(ts)
	a.Level = model.ThreatLevel(level)
	a.TrackerKind = model.TrackerKind(fromNull(trackerKind))
	a.Action = model.AlertAction(action)
	return a, nil
}
