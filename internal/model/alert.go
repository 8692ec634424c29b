package model

import "time"

// AlertAction is the user's resolution of an alert.
type AlertAction string

const (
	AlertActionNone        AlertAction = "NONE"
	AlertActionDismissed   AlertAction = "DISMISSED"
	AlertActionWhitelisted AlertAction = "WHITELISTED"
	AlertActionFlagged     AlertAction = "FLAGGED"
	AlertActionReported    AlertAction = "REPORTED"
)

// Valid reports whether a is one of the known actions.
func (a AlertAction) Valid() bool {
	switch a {
	case AlertActionNone, AlertActionDismissed, AlertActionWhitelisted, AlertActionFlagged, AlertActionReported:
		return true
	default:
		return false
	}
}

// Alert is a user-facing warning about a device that appears to follow the user.
type Alert struct {
	ID                int64       `json:"id"`
	DeviceID          string      `json:"device_id"`
	DeviceName        string      `json:"device_name,omitempty"`
	RadioType         RadioType   `json:"radio_type"`
	Timestamp         time.Time   `json:"timestamp"`
	Score             int         `json:"score"`
	Level             ThreatLevel `json:"level"`
	Position          Position    `json:"position"`
	SightingCount     int         `json:"sighting_count"`
	LocationCount     int         `json:"location_count"`
	FollowDurationSec int64       `json:"follow_duration_sec"`
	TrackerKind       TrackerKind `json:"tracker_kind,omitempty"`
	Acknowledged      bool        `json:"acknowledged"`
	Action            AlertAction `json:"action"`
}

// CalibrationSample is one scoring outcome kept for threshold tuning.
type CalibrationSample struct {
	ExposureMinutes      float64   `json:"exposure_minutes"`
	LongestStreakMinutes float64   `json:"longest_streak_minutes"`
	DistinctLocations    int       `json:"distinct_locations"`
	AvgSignal            float64   `json:"avg_signal"`
	Score                int       `json:"score"`
	RecordedAt           time.Time `json:"recorded_at"`
}

// Stats summarizes the detection store.
type Stats struct {
	TotalDevices         int `json:"total_devices"`
	SuspiciousDevices    int `json:"suspicious_devices"`
	RecentSightings      int `json:"recent_sightings"`
	UnacknowledgedAlerts int `json:"unacknowledged_alerts"`
}
