package detection

import (
	"context"
	"time"

	"github.com/micro-ha/follower-watch/internal/model"
)

// Repository defines persistent storage operations for the detection domain.
type Repository interface {
	FindDevice(ctx context.Context, id string) (model.Device, bool, error)
	UpsertDevice(ctx context.Context, device model.Device) error
	ListDevices(ctx context.Context, filter ListFilter) ([]model.Device, error)
	SetDeviceFlags(ctx context.Context, id string, whitelisted, flagged *bool) error
	// DeleteDevicesSeenBefore removes stale devices that are neither whitelisted nor flagged.
	DeleteDevicesSeenBefore(ctx context.Context, before time.Time) (int64, error)

	InsertSighting(ctx context.Context, sighting model.Sighting) (int64, error)
	SightingsSince(ctx context.Context, deviceID string, since time.Time) ([]model.Sighting, error)
	DistinctLocationCount(ctx context.Context, deviceID string) (int, error)
	// DeleteSightingsBefore keeps the history of whitelisted and flagged devices.
	DeleteSightingsBefore(ctx context.Context, before time.Time) (int64, error)

	InsertAlert(ctx context.Context, alert model.Alert) (int64, error)
	LatestAlertForDevice(ctx context.Context, deviceID string) (model.Alert, bool, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	AcknowledgeAlert(ctx context.Context, id int64) error
	SetAlertAction(ctx context.Context, id int64, action model.AlertAction) (model.Alert, error)

	TouchLocationCluster(ctx context.Context, pos model.Position, at time.Time) (model.LocationCluster, error)
	ListLocationClusters(ctx context.Context) ([]model.LocationCluster, error)

	Stats(ctx context.Context, sightingsSince time.Time, suspiciousAbove int) (model.Stats, error)
}
