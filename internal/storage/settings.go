package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/micro-ha/follower-watch/internal/model"
)

const settingsKey = "detection"

// LoadSettings returns the stored settings document; ok is false when none was saved yet.
func (r *Repository) LoadSettings(ctx context.Context) (model.Settings, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Settings{}, false, nil
	}
	if err != nil {
		return model.Settings{}, false, err
	}
	var s model.Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return s, true, nil
}

func (r *Repository) SaveSettings(ctx context.Context, s model.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at`,
		settingsKey,
		string(raw),
		formatTime(s.UpdatedAt),
	)
	return err
}
