package detection

import (
	"context"
	"time"

	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/suspicion"
)

// Service exposes detection use-cases used by the HTTP layer and scan sources.
type Service interface {
	Start()
	Stop()
	State() State

	Ingest(ctx context.Context, observations []model.Observation) (IngestResult, error)
	UpdateLocation(ctx context.Context, pos model.Position, at time.Time) (model.LocationCluster, error)

	ListDevices(ctx context.Context, filter ListFilter) ([]Device, error)
	GetDevice(ctx context.Context, id string) (DeviceDetail, error)
	PatchDevice(ctx context.Context, id string, patch DevicePatch) (Device, error)
	Rescore(ctx context.Context, id string) (suspicion.Result, error)

	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, id int64) error
	SetAlertAction(ctx context.Context, id int64, action model.AlertAction) (Alert, error)

	ListClusters(ctx context.Context) ([]model.LocationCluster, error)
	Stats(ctx context.Context) (model.Stats, error)
	Maintain(ctx context.Context) (MaintenanceReport, error)
}
