package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	detectiondomain "github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/storage"
	"github.com/micro-ha/follower-watch/internal/suspicion"
	"github.com/micro-ha/follower-watch/internal/timeutil"
)

const (
	tierStandard = "STANDARD"
	tierEnhanced = "ENHANCED"

	statsSightingWindow = 24 * time.Hour
)

// Pipeline is the detection core driven by the service.
type Pipeline interface {
	Start()
	Stop()
	Running() bool
	Enhanced() bool
	ScoringWindow() time.Duration
	ProcessObservation(ctx context.Context, obs model.Observation) ([]model.Alert, error)
	RecalculateScore(ctx context.Context, device model.Device) (suspicion.Result, error)
	Rescore(ctx context.Context, id string) (suspicion.Result, error)
	PerformMaintenance(ctx context.Context) (detectiondomain.MaintenanceReport, error)
}

// LocationSink accepts user location fixes.
type LocationSink interface {
	Update(pos model.Position, at time.Time) bool
}

// SettingsProvider supplies current detection settings.
type SettingsProvider interface {
	Get() model.Settings
}

var _ detectiondomain.Service = (*Service)(nil)

// Service implements detection.Service use-cases.
type Service struct {
	repo     detectiondomain.Repository
	pipeline Pipeline
	location LocationSink
	settings SettingsProvider
	clock    timeutil.Clock
	logger   *slog.Logger
}

func New(
	repo detectiondomain.Repository,
	pipeline Pipeline,
	location LocationSink,
	settings SettingsProvider,
	clock timeutil.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		pipeline: pipeline,
		location: location,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
}

func (s *Service) Start() {
	s.pipeline.Start()
}

func (s *Service) Stop() {
	s.pipeline.Stop()
}

func (s *Service) State() detectiondomain.State {
	state := detectiondomain.State{
		Running:  s.pipeline.Running(),
		Enhanced: s.pipeline.Enhanced(),
		Tier:     tierStandard,
	}
	if state.Enhanced {
		state.Tier = tierEnhanced
	}
	return state
}

// Ingest validates and processes a batch in order. Processing stops at the
// first storage failure; alerts emitted before it are still returned.
func (s *Service) Ingest(ctx context.Context, observations []model.Observation) (detectiondomain.IngestResult, error) {
	result := detectiondomain.IngestResult{Alerts: []model.Alert{}}
	if !s.pipeline.Running() {
		return result, detectiondomain.ErrNotRunning
	}
	for i := range observations {
		if err := validateObservation(&observations[i]); err != nil {
			return result, fmt.Errorf("observation %d: %w", i, err)
		}
	}
	for _, obs := range observations {
		alerts, err := s.pipeline.ProcessObservation(ctx, obs)
		if err != nil {
			return result, err
		}
		result.Accepted++
		result.Alerts = append(result.Alerts, alerts...)
	}
	return result, nil
}

func (s *Service) UpdateLocation(ctx context.Context, pos model.Position, at time.Time) (model.LocationCluster, error) {
	if !validPosition(pos) {
		return model.LocationCluster{}, detectiondomain.ErrInvalidPosition
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	s.location.Update(pos, at)
	return s.repo.TouchLocationCluster(ctx, pos, at)
}

func (s *Service) ListDevices(ctx context.Context, filter detectiondomain.ListFilter) ([]detectiondomain.Device, error) {
	return s.repo.ListDevices(ctx, filter)
}

func (s *Service) GetDevice(ctx context.Context, id string) (detectiondomain.DeviceDetail, error) {
	device, err := s.findDevice(ctx, id)
	if err != nil {
		return detectiondomain.DeviceDetail{}, err
	}
	sightings, err := s.repo.SightingsSince(ctx, id, s.clock.Now().Add(-s.pipeline.ScoringWindow()))
	if err != nil {
		return detectiondomain.DeviceDetail{}, err
	}
	score, err := s.pipeline.RecalculateScore(ctx, device)
	if err != nil {
		return detectiondomain.DeviceDetail{}, err
	}
	return detectiondomain.DeviceDetail{Device: device, Sightings: sightings, Score: score}, nil
}

func (s *Service) PatchDevice(ctx context.Context, id string, patch detectiondomain.DevicePatch) (detectiondomain.Device, error) {
	err := s.repo.SetDeviceFlags(ctx, id, patch.Whitelisted, patch.Flagged)
	if errors.Is(err, storage.ErrNotFound) {
		return detectiondomain.Device{}, detectiondomain.ErrDeviceNotFound
	}
	if err != nil {
		return detectiondomain.Device{}, err
	}
	return s.findDevice(ctx, id)
}

// Rescore recomputes and persists a device's score.
func (s *Service) Rescore(ctx context.Context, id string) (suspicion.Result, error) {
	return s.pipeline.Rescore(ctx, id)
}

func (s *Service) ListAlerts(ctx context.Context, filter detectiondomain.AlertFilter) ([]detectiondomain.Alert, error) {
	return s.repo.ListAlerts(ctx, filter)
}

func (s *Service) AcknowledgeAlert(ctx context.Context, id int64) error {
	err := s.repo.AcknowledgeAlert(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return detectiondomain.ErrAlertNotFound
	}
	return err
}

// SetAlertAction records the user's resolution. Whitelisting or flagging an
// alert also marks its device.
func (s *Service) SetAlertAction(ctx context.Context, id int64, action model.AlertAction) (detectiondomain.Alert, error) {
	if !action.Valid() {
		return detectiondomain.Alert{}, detectiondomain.ErrInvalidAction
	}
	alert, err := s.repo.SetAlertAction(ctx, id, action)
	if errors.Is(err, storage.ErrNotFound) {
		return detectiondomain.Alert{}, detectiondomain.ErrAlertNotFound
	}
	if err != nil {
		return detectiondomain.Alert{}, err
	}

	yes := true
	switch action {
	case model.AlertActionWhitelisted:
		err = s.repo.SetDeviceFlags(ctx, alert.DeviceID, &yes, nil)
	case model.AlertActionFlagged:
		err = s.repo.SetDeviceFlags(ctx, alert.DeviceID, nil, &yes)
	}
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("alert device missing", "alert_id", id, "device_id", alert.DeviceID)
		err = nil
	}
	return alert, err
}

func (s *Service) ListClusters(ctx context.Context) ([]model.LocationCluster, error) {
	return s.repo.ListLocationClusters(ctx)
}

func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	return s.repo.Stats(ctx, s.clock.Now().Add(-statsSightingWindow), s.settings.Get().LowThreshold)
}

func (s *Service) Maintain(ctx context.Context) (detectiondomain.MaintenanceReport, error) {
	return s.pipeline.PerformMaintenance(ctx)
}

func (s *Service) findDevice(ctx context.Context, id string) (model.Device, error) {
	device, ok, err := s.repo.FindDevice(ctx, id)
	if err != nil {
		return model.Device{}, err
	}
	if !ok {
		return model.Device{}, detectiondomain.ErrDeviceNotFound
	}
	return device, nil
}

func validateObservation(obs *model.Observation) error {
	obs.Identifier = strings.TrimSpace(obs.Identifier)
	if obs.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", detectiondomain.ErrInvalidObservation)
	}
	if !obs.RadioType.Valid() {
		return fmt.Errorf("%w: unknown radio type %q", detectiondomain.ErrInvalidObservation, obs.RadioType)
	}
	if (obs.Position != model.Position{}) && !validPosition(obs.Position) {
		return fmt.Errorf("%w: %w", detectiondomain.ErrInvalidObservation, detectiondomain.ErrInvalidPosition)
	}
	return nil
}

func validPosition(pos model.Position) bool {
	return pos.Latitude >= -90 && pos.Latitude <= 90 && pos.Longitude >= -180 && pos.Longitude <= 180
}
