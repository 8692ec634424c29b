// Package settings caches the persisted detection settings in memory.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/timeutil"
)

// ErrInvalid indicates a settings payload that cannot be applied.
var ErrInvalid = detection.ErrInvalidSettings

// Store persists one settings document.
type Store interface {
	LoadSettings(ctx context.Context) (model.Settings, bool, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

type Manager struct {
	store  Store
	clock  timeutil.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	settings model.Settings
}

// NewManager starts with defaults until the first Refresh.
func NewManager(store Store, clock timeutil.Clock, logger *slog.Logger) *Manager {
	return &Manager{store: store, clock: clock, logger: logger, settings: model.DefaultSettings()}
}

// Refresh reloads settings from the store and reports whether the cached
// version changed. A missing document keeps the defaults.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	loaded, ok, err := m.store.LoadSettings(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		loaded = model.DefaultSettings()
	}
	loaded = loaded.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	changed := loaded.Version != m.settings.Version
	m.settings = loaded
	return changed, nil
}

func (m *Manager) Get() model.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update applies fn to a copy of the current settings, validates and
// persists the result, then swaps the cache.
func (m *Manager) Update(ctx context.Context, fn func(*model.Settings)) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.settings
	fn(&next)
	if err := Validate(next); err != nil {
		return m.settings, err
	}
	next = next.Normalize()
	next.Version = m.settings.Version + 1
	next.UpdatedAt = m.clock.Now()

	if err := m.store.SaveSettings(ctx, next); err != nil {
		return m.settings, fmt.Errorf("save settings: %w", err)
	}
	m.settings = next
	m.logger.Info("settings updated", "version", next.Version)
	return next, nil
}

// Replace stores s as the new settings document.
func (m *Manager) Replace(ctx context.Context, s model.Settings) (model.Settings, error) {
	return m.Update(ctx, func(cur *model.Settings) {
		*cur = s
	})
}

// UpdateThresholds sets the low and high score thresholds.
func (m *Manager) UpdateThresholds(ctx context.Context, low, high int) (model.Settings, error) {
	return m.Update(ctx, func(s *model.Settings) {
		s.LowThreshold = low
		s.HighThreshold = high
	})
}

// Reset restores the documented defaults.
func (m *Manager) Reset(ctx context.Context) (model.Settings, error) {
	return m.Update(ctx, func(s *model.Settings) {
		*s = model.DefaultSettings()
	})
}

// Validate rejects values that Normalize would otherwise silently rewrite.
func Validate(s model.Settings) error {
	switch {
	case s.LowThreshold < 0 || s.LowThreshold > 100:
		return fmt.Errorf("%w: low threshold %d outside 0-100", ErrInvalid, s.LowThreshold)
	case s.HighThreshold < 0 || s.HighThreshold > 100:
		return fmt.Errorf("%w: high threshold %d outside 0-100", ErrInvalid, s.HighThreshold)
	case s.LowThreshold > 0 && s.HighThreshold > 0 && s.HighThreshold <= s.LowThreshold:
		return fmt.Errorf("%w: high threshold must exceed low threshold", ErrInvalid)
	case s.LocationClusterMeters < 0:
		return fmt.Errorf("%w: location cluster distance is negative", ErrInvalid)
	case s.StreakGapMinutes < 0 || s.CorrelationWindowMinutes < 0:
		return fmt.Errorf("%w: negative window", ErrInvalid)
	case s.ScanThrottleMillis < 0 || s.ScoreThrottleMillis < 0:
		return fmt.Errorf("%w: negative throttle", ErrInvalid)
	}
	return nil
}
