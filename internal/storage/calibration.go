package storage

import (
	"context"

	"github.com/micro-ha/follower-watch/internal/model"
)

func (r *Repository) LoadCalibrationSamples(ctx context.Context) ([]model.CalibrationSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT exposure_minutes, streak_minutes, distinct_locations, avg_signal, score, recorded_at
		FROM calibration_samples
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.CalibrationSample{}
	for rows.Next() {
		var (
			s          model.CalibrationSample
			recordedAt string
		)
		if err := rows.Scan(&s.ExposureMinutes, &s.LongestStreakMinutes, &s.DistinctLocations, &s.AvgSignal, &s.Score, &recordedAt); err != nil {
			return nil, err
		}
		s.RecordedAt = parseTime(recordedAt)
		items = append(items, s)
	}
	return items, rows.Err()
}

// SaveCalibrationSamples replaces the whole sample set.
func (r *Repository) SaveCalibrationSamples(ctx context.Context, samples []model.CalibrationSample) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calibration_samples`); err != nil {
		return err
	}
	if len(samples) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO calibration_samples (exposure_minutes, streak_minutes, distinct_locations, avg_signal, score, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range samples {
			if _, err := stmt.ExecContext(ctx,
				s.ExposureMinutes, s.LongestStreakMinutes, s.DistinctLocations, s.AvgSignal, s.Score, formatTime(s.RecordedAt),
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
