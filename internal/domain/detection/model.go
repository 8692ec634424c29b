package detection

import (
	"time"

	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/suspicion"
)

// Device is the persisted record for one stable identity.
type Device = model.Device

// Alert is a user-facing follow warning.
type Alert = model.Alert

// ListFilter applies device list query constraints.
type ListFilter struct {
	MinScore  int
	MinSignal *int
	Query     string
	Limit     int
}

// AlertFilter applies alert list query constraints.
type AlertFilter struct {
	UnacknowledgedOnly bool
	DeviceID           string
	Limit              int
}

// DevicePatch carries user flags; nil fields are left unchanged.
type DevicePatch struct {
	Whitelisted *bool `json:"whitelisted"`
	Flagged     *bool `json:"flagged"`
}

// DeviceDetail is a device with its recent history and current score breakdown.
type DeviceDetail struct {
	Device    Device           `json:"device"`
	Sightings []model.Sighting `json:"sightings"`
	Score     suspicion.Result `json:"score"`
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	SightingsDeleted int64     `json:"sightings_deleted"`
	DevicesDeleted   int64     `json:"devices_deleted"`
	ThrottlesPruned  int       `json:"throttles_pruned"`
	RanAt            time.Time `json:"ran_at"`
}

// IngestResult summarizes a batch of observations.
type IngestResult struct {
	Accepted int     `json:"accepted"`
	Alerts   []Alert `json:"alerts"`
}

// State is the host-visible pipeline state.
type State struct {
	Running  bool   `json:"running"`
	Enhanced bool   `json:"enhanced"`
	Tier     string `json:"tier"`
}
