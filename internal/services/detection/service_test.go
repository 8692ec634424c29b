package detection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	detectiondomain "github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/storage"
	"github.com/micro-ha/follower-watch/internal/suspicion"
	"github.com/micro-ha/follower-watch/internal/timeutil"
)

var now = time.Date(2026, 6, 1, 18, 30, 0, 0, time.UTC)

type memoryRepo struct {
	devices   map[string]model.Device
	sightings []model.Sighting
	alerts    map[int64]model.Alert
	clusters  []model.LocationCluster
	statsArgs []any
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{devices: map[string]model.Device{}, alerts: map[int64]model.Alert{}}
}

func (r *memoryRepo) FindDevice(_ context.Context, id string) (model.Device, bool, error) {
	d, ok := r.devices[id]
	return d, ok, nil
}

func (r *memoryRepo) UpsertDevice(_ context.Context, d model.Device) error {
	if existing, ok := r.devices[d.ID]; ok {
		d.Whitelisted, d.Flagged = existing.Whitelisted, existing.Flagged
	}
	r.devices[d.ID] = d
	return nil
}

func (r *memoryRepo) ListDevices(context.Context, detectiondomain.ListFilter) ([]model.Device, error) {
	out := []model.Device{}
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out, nil
}

func (r *memoryRepo) SetDeviceFlags(_ context.Context, id string, whitelisted, flagged *bool) error {
	d, ok := r.devices[id]
	if !ok {
		return storage.ErrNotFound
	}
	if whitelisted != nil {
		d.Whitelisted = *whitelisted
	}
	if flagged != nil {
		d.Flagged = *flagged
	}
	r.devices[id] = d
	return nil
}

func (r *memoryRepo) DeleteDevicesSeenBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *memoryRepo) InsertSighting(_ context.Context, s model.Sighting) (int64, error) {
	r.sightings = append(r.sightings, s)
	return int64(len(r.sightings)), nil
}

func (r *memoryRepo) SightingsSince(_ context.Context, deviceID string, since time.Time) ([]model.Sighting, error) {
	out := []model.Sighting{}
	for _, s := range r.sightings {
		if s.DeviceID == deviceID && !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRepo) DistinctLocationCount(context.Context, string) (int, error) {
	return 0, nil
}

func (r *memoryRepo) DeleteSightingsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *memoryRepo) InsertAlert(_ context.Context, a model.Alert) (int64, error) {
	a.ID = int64(len(r.alerts) + 1)
	r.alerts[a.ID] = a
	return a.ID, nil
}

func (r *memoryRepo) LatestAlertForDevice(context.Context, string) (model.Alert, bool, error) {
	return model.Alert{}, false, nil
}

func (r *memoryRepo) ListAlerts(context.Context, detectiondomain.AlertFilter) ([]model.Alert, error) {
	out := []model.Alert{}
	for _, a := range r.alerts {
		out = append(out, a)
	}
	return out, nil
}

func (r *memoryRepo) AcknowledgeAlert(_ context.Context, id int64) error {
	a, ok := r.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.Acknowledged = true
	r.alerts[id] = a
	return nil
}

func (r *memoryRepo) SetAlertAction(_ context.Context, id int64, action model.AlertAction) (model.Alert, error) {
	a, ok := r.alerts[id]
	if !ok {
		return model.Alert{}, storage.ErrNotFound
	}
	a.Action = action
	a.Acknowledged = true
	r.alerts[id] = a
	return a, nil
}

func (r *memoryRepo) TouchLocationCluster(_ context.Context, pos model.Position, at time.Time) (model.LocationCluster, error) {
	c := model.LocationCluster{ID: int64(len(r.clusters) + 1), Center: pos, RadiusMeters: 100, VisitCount: 1, FirstVisit: at, LastVisit: at}
	r.clusters = append(r.clusters, c)
	return c, nil
}

func (r *memoryRepo) ListLocationClusters(context.Context) ([]model.LocationCluster, error) {
	return r.clusters, nil
}

func (r *memoryRepo) Stats(_ context.Context, since time.Time, above int) (model.Stats, error) {
	r.statsArgs = []any{since, above}
	return model.Stats{TotalDevices: len(r.devices)}, nil
}

type fakePipeline struct {
	running   bool
	enhanced  bool
	processed []model.Observation
	rescored  []string
	result    suspicion.Result
	alerts    []model.Alert
}

func (p *fakePipeline) Start()                       { p.running = true }
func (p *fakePipeline) Stop()                        { p.running = false }
func (p *fakePipeline) Running() bool                { return p.running }
func (p *fakePipeline) Enhanced() bool               { return p.enhanced }
func (p *fakePipeline) ScoringWindow() time.Duration { return 6 * time.Hour }

func (p *fakePipeline) ProcessObservation(_ context.Context, obs model.Observation) ([]model.Alert, error) {
	p.processed = append(p.processed, obs)
	return p.alerts, nil
}

func (p *fakePipeline) RecalculateScore(context.Context, model.Device) (suspicion.Result, error) {
	return p.result, nil
}

func (p *fakePipeline) Rescore(_ context.Context, id string) (suspicion.Result, error) {
	p.rescored = append(p.rescored, id)
	if id == "missing" {
		return suspicion.Result{}, detectiondomain.ErrDeviceNotFound
	}
	return p.result, nil
}

func (p *fakePipeline) PerformMaintenance(context.Context) (detectiondomain.MaintenanceReport, error) {
	return detectiondomain.MaintenanceReport{RanAt: now}, nil
}

type fakeLocation struct {
	pos model.Position
	at  time.Time
}

func (l *fakeLocation) Update(pos model.Position, at time.Time) bool {
	l.pos, l.at = pos, at
	return true
}

type staticSettings struct{}

func (staticSettings) Get() model.Settings { return model.DefaultSettings() }

func newTestService(repo *memoryRepo, pipe *fakePipeline, loc *fakeLocation) *Service {
	return New(repo, pipe, loc, staticSettings{}, timeutil.NewMockClock(now), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIngestRequiresRunningPipeline(t *testing.T) {
	pipe := &fakePipeline{}
	svc := newTestService(newMemoryRepo(), pipe, &fakeLocation{})

	_, err := svc.Ingest(context.Background(), []model.Observation{{Identifier: "AA", RadioType: model.RadioWiFiProbe}})
	require.ErrorIs(t, err, detectiondomain.ErrNotRunning)

	svc.Start()
	assert.Equal(t, detectiondomain.State{Running: true, Tier: "STANDARD"}, svc.State())
	pipe.enhanced = true
	assert.Equal(t, "ENHANCED", svc.State().Tier)
}

func TestIngestValidatesWholeBatchFirst(t *testing.T) {
	pipe := &fakePipeline{running: true}
	svc := newTestService(newMemoryRepo(), pipe, &fakeLocation{})

	_, err := svc.Ingest(context.Background(), []model.Observation{
		{Identifier: "AA:BB", RadioType: model.RadioWiFiAP},
		{Identifier: "  ", RadioType: model.RadioBLE},
	})
	require.ErrorIs(t, err, detectiondomain.ErrInvalidObservation)
	assert.Empty(t, pipe.processed)

	_, err = svc.Ingest(context.Background(), []model.Observation{{Identifier: "AA", RadioType: "ZIGBEE"}})
	require.ErrorIs(t, err, detectiondomain.ErrInvalidObservation)

	_, err = svc.Ingest(context.Background(), []model.Observation{{Identifier: "AA", RadioType: model.RadioBLE, Position: model.Position{Latitude: 95}}})
	require.ErrorIs(t, err, detectiondomain.ErrInvalidPosition)
}

func TestIngestAcceptsEveryRadioType(t *testing.T) {
	pipe := &fakePipeline{running: true}
	svc := newTestService(newMemoryRepo(), pipe, &fakeLocation{})

	res, err := svc.Ingest(context.Background(), []model.Observation{
		{Identifier: "00:1A:7D:DA:71:13", RadioType: model.RadioBTClassic},
		{Identifier: "7A:11:22:33:44:55", RadioType: model.RadioBLE},
		{Identifier: "00:0C:42:00:00:01", RadioType: model.RadioWiFiAP},
		{Identifier: "00:03:93:1A:2B:3C", RadioType: model.RadioWiFiProbe},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Accepted)
	require.Len(t, pipe.processed, 4)
	assert.Equal(t, model.RadioBTClassic, pipe.processed[0].RadioType)

	_, err = svc.Ingest(context.Background(), []model.Observation{{Identifier: "AA", RadioType: "BLUETOOTH_CLASSIC"}})
	require.ErrorIs(t, err, detectiondomain.ErrInvalidObservation)
}

func TestIngestCollectsAlerts(t *testing.T) {
	pipe := &fakePipeline{running: true, alerts: []model.Alert{{ID: 9, DeviceID: "ble_1"}}}
	svc := newTestService(newMemoryRepo(), pipe, &fakeLocation{})

	res, err := svc.Ingest(context.Background(), []model.Observation{
		{Identifier: " 7a:11 ", RadioType: model.RadioBLE},
		{Identifier: "7b:22", RadioType: model.RadioBLE},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Len(t, res.Alerts, 2)
	assert.Equal(t, "7a:11", pipe.processed[0].Identifier)
}

func TestUpdateLocationFeedsTrackerAndClusters(t *testing.T) {
	repo := newMemoryRepo()
	loc := &fakeLocation{}
	svc := newTestService(repo, &fakePipeline{}, loc)
	pos := model.Position{Latitude: 48.85, Longitude: 2.35}

	cluster, err := svc.UpdateLocation(context.Background(), pos, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, pos, loc.pos)
	assert.Equal(t, now, loc.at)
	assert.Equal(t, pos, cluster.Center)

	_, err = svc.UpdateLocation(context.Background(), model.Position{Longitude: 181}, now)
	require.ErrorIs(t, err, detectiondomain.ErrInvalidPosition)
}

func TestGetDeviceIncludesHistoryAndScore(t *testing.T) {
	repo := newMemoryRepo()
	repo.devices["ble_1"] = model.Device{ID: "ble_1", LastSeen: now}
	repo.sightings = []model.Sighting{
		{DeviceID: "ble_1", Timestamp: now.Add(-7 * time.Hour)},
		{DeviceID: "ble_1", Timestamp: now.Add(-time.Hour), RSSI: -61},
	}
	pipe := &fakePipeline{result: suspicion.Result{Score: 44, Level: model.ThreatLevelMedium}}
	svc := newTestService(repo, pipe, &fakeLocation{})

	detail, err := svc.GetDevice(context.Background(), "ble_1")
	require.NoError(t, err)
	require.Len(t, detail.Sightings, 1)
	assert.Equal(t, -61, detail.Sightings[0].RSSI)
	assert.Equal(t, 44, detail.Score.Score)

	_, err = svc.GetDevice(context.Background(), "missing")
	require.ErrorIs(t, err, detectiondomain.ErrDeviceNotFound)
}

func TestRescoreDelegatesToPipeline(t *testing.T) {
	pipe := &fakePipeline{result: suspicion.Result{Score: 72, Level: model.ThreatLevelHigh}}
	svc := newTestService(newMemoryRepo(), pipe, &fakeLocation{})

	res, err := svc.Rescore(context.Background(), "ble_1")
	require.NoError(t, err)
	assert.Equal(t, 72, res.Score)

	_, err = svc.Rescore(context.Background(), "missing")
	require.ErrorIs(t, err, detectiondomain.ErrDeviceNotFound)
	assert.Equal(t, []string{"ble_1", "missing"}, pipe.rescored)
}

func TestPatchDevice(t *testing.T) {
	repo := newMemoryRepo()
	repo.devices["ble_1"] = model.Device{ID: "ble_1"}
	svc := newTestService(repo, &fakePipeline{}, &fakeLocation{})

	yes := true
	got, err := svc.PatchDevice(context.Background(), "ble_1", detectiondomain.DevicePatch{Flagged: &yes})
	require.NoError(t, err)
	if diff := cmp.Diff(model.Device{ID: "ble_1", Flagged: true}, got); diff != "" {
		t.Fatalf("patched device mismatch (-want +got):\n%s", diff)
	}

	_, err = svc.PatchDevice(context.Background(), "missing", detectiondomain.DevicePatch{Flagged: &yes})
	require.ErrorIs(t, err, detectiondomain.ErrDeviceNotFound)
}

func TestSetAlertActionMarksDevice(t *testing.T) {
	repo := newMemoryRepo()
	repo.devices["ble_1"] = model.Device{ID: "ble_1"}
	repo.alerts[1] = model.Alert{ID: 1, DeviceID: "ble_1", Action: model.AlertActionNone}
	repo.alerts[2] = model.Alert{ID: 2, DeviceID: "gone", Action: model.AlertActionNone}
	svc := newTestService(repo, &fakePipeline{}, &fakeLocation{})
	ctx := context.Background()

	alert, err := svc.SetAlertAction(ctx, 1, model.AlertActionWhitelisted)
	require.NoError(t, err)
	assert.True(t, alert.Acknowledged)
	assert.True(t, repo.devices["ble_1"].Whitelisted)

	_, err = svc.SetAlertAction(ctx, 2, model.AlertActionFlagged)
	require.NoError(t, err)

	_, err = svc.SetAlertAction(ctx, 1, "SNOOZED")
	require.ErrorIs(t, err, detectiondomain.ErrInvalidAction)

	_, err = svc.SetAlertAction(ctx, 42, model.AlertActionDismissed)
	require.ErrorIs(t, err, detectiondomain.ErrAlertNotFound)

	require.ErrorIs(t, svc.AcknowledgeAlert(ctx, 42), detectiondomain.ErrAlertNotFound)
	require.NoError(t, svc.AcknowledgeAlert(ctx, 2))
}

func TestStatsUsesLowThresholdAndDayWindow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakePipeline{}, &fakeLocation{})

	_, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{now.Add(-24 * time.Hour), model.DefaultLowThreshold}, repo.statsArgs)
}
