package model

import "time"

const (
	DefaultLocationClusterMeters    = 500.0
	DefaultStreakGapMinutes         = 10
	DefaultLowThreshold             = 30
	DefaultHighThreshold            = 61
	DefaultSignalThresholdDBM       = -60
	DefaultCorrelationWindowMinutes = 5
	DefaultScanThrottleMillis       = 5_000
	DefaultScoreThrottleMillis      = 60_000

	minThresholdGap = 10
)

// Settings is the user-editable detection configuration.
type Settings struct {
	Version                  int64     `json:"version"`
	UpdatedAt                time.Time `json:"updated_at"`
	LocationClusterMeters    float64   `json:"location_cluster_meters"`
	StreakGapMinutes         int       `json:"streak_gap_minutes"`
	LowThreshold             int       `json:"low_threshold"`
	HighThreshold            int       `json:"high_threshold"`
	SignalThresholdDBM       int       `json:"signal_threshold_dbm"`
	CorrelationWindowMinutes int       `json:"correlation_window_minutes"`
	CalibrationMode          bool      `json:"calibration_mode"`
	ScanOnlyWhenMoving       bool      `json:"scan_only_when_moving"`
	ScanThrottleMillis       int64     `json:"scan_throttle_ms"`
	ScoreThrottleMillis      int64     `json:"score_throttle_ms"`
}

func DefaultSettings() Settings {
	return Settings{
		LocationClusterMeters:    DefaultLocationClusterMeters,
		StreakGapMinutes:         DefaultStreakGapMinutes,
		LowThreshold:             DefaultLowThreshold,
		HighThreshold:            DefaultHighThreshold,
		SignalThresholdDBM:       DefaultSignalThresholdDBM,
		CorrelationWindowMinutes: DefaultCorrelationWindowMinutes,
		ScanThrottleMillis:       DefaultScanThrottleMillis,
		ScoreThrottleMillis:      DefaultScoreThrottleMillis,
	}
}

// Normalize replaces unset or out-of-range values with defaults and keeps
// the high threshold above the low one.
func (s Settings) Normalize() Settings {
	defaults := DefaultSettings()
	if s.LocationClusterMeters <= 0 {
		s.LocationClusterMeters = defaults.LocationClusterMeters
	}
	if s.StreakGapMinutes <= 0 {
		s.StreakGapMinutes = defaults.StreakGapMinutes
	}
	if s.LowThreshold <= 0 || s.LowThreshold >= 100 {
		s.LowThreshold = defaults.LowThreshold
	}
	if s.HighThreshold <= 0 || s.HighThreshold > 100 {
		s.HighThreshold = defaults.HighThreshold
	}
	if s.HighThreshold <= s.LowThreshold {
		s.HighThreshold = min(s.LowThreshold+minThresholdGap, 100)
	}
	if s.SignalThresholdDBM >= 0 {
		s.SignalThresholdDBM = defaults.SignalThresholdDBM
	}
	if s.CorrelationWindowMinutes <= 0 {
		s.CorrelationWindowMinutes = defaults.CorrelationWindowMinutes
	}
	if s.ScanThrottleMillis <= 0 {
		s.ScanThrottleMillis = defaults.ScanThrottleMillis
	}
	if s.ScoreThrottleMillis <= 0 {
		s.ScoreThrottleMillis = defaults.ScoreThrottleMillis
	}
	return s
}

func (s Settings) StreakGap() time.Duration {
	return time.Duration(s.StreakGapMinutes) * time.Minute
}

func (s Settings) CorrelationWindow() time.Duration {
	return time.Duration(s.CorrelationWindowMinutes) * time.Minute
}

func (s Settings) ScanThrottle() time.Duration {
	return time.Duration(s.ScanThrottleMillis) * time.Millisecond
}

func (s Settings) ScoreThrottle() time.Duration {
	return time.Duration(s.ScoreThrottleMillis) * time.Millisecond
}
