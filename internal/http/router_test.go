package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	detectiondomain "github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/http/handlers"
	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/suspicion"
)

type fakeDetection struct {
	running    bool
	ingested   []model.Observation
	ingestErr  error
	lastFilter detectiondomain.ListFilter
	lastAlerts detectiondomain.AlertFilter
	lastPos    model.Position
	lastAt     time.Time
	devices    map[string]model.Device
	acked      []int64
	action     model.AlertAction
}

func newFakeDetection() *fakeDetection {
	return &fakeDetection{
		running: true,
		devices: map[string]model.Device{"ble_1": {ID: "ble_1", RadioType: model.RadioBLE, Score: 72}},
	}
}

func (f *fakeDetection) Start() { f.running = true }
func (f *fakeDetection) Stop()  { f.running = false }

func (f *fakeDetection) State() detectiondomain.State {
	return detectiondomain.State{Running: f.running, Tier: "STANDARD"}
}

func (f *fakeDetection) Ingest(_ context.Context, obs []model.Observation) (detectiondomain.IngestResult, error) {
	if !f.running {
		return detectiondomain.IngestResult{}, detectiondomain.ErrNotRunning
	}
	if f.ingestErr != nil {
		return detectiondomain.IngestResult{}, f.ingestErr
	}
	f.ingested = append(f.ingested, obs...)
	return detectiondomain.IngestResult{Accepted: len(obs), Alerts: []model.Alert{}}, nil
}

func (f *fakeDetection) UpdateLocation(_ context.Context, pos model.Position, at time.Time) (model.LocationCluster, error) {
	if pos.Latitude > 90 {
		return model.LocationCluster{}, detectiondomain.ErrInvalidPosition
	}
	f.lastPos, f.lastAt = pos, at
	return model.LocationCluster{ID: 1, Center: pos, RadiusMeters: 100, VisitCount: 1}, nil
}

func (f *fakeDetection) ListDevices(_ context.Context, filter detectiondomain.ListFilter) ([]detectiondomain.Device, error) {
	f.lastFilter = filter
	return []model.Device{f.devices["ble_1"]}, nil
}

func (f *fakeDetection) GetDevice(_ context.Context, id string) (detectiondomain.DeviceDetail, error) {
	device, ok := f.devices[id]
	if !ok {
		return detectiondomain.DeviceDetail{}, detectiondomain.ErrDeviceNotFound
	}
	return detectiondomain.DeviceDetail{Device: device, Sightings: []model.Sighting{}}, nil
}

func (f *fakeDetection) PatchDevice(_ context.Context, id string, patch detectiondomain.DevicePatch) (detectiondomain.Device, error) {
	device, ok := f.devices[id]
	if !ok {
		return detectiondomain.Device{}, detectiondomain.ErrDeviceNotFound
	}
	if patch.Whitelisted != nil {
		device.Whitelisted = *patch.Whitelisted
	}
	f.devices[id] = device
	return device, nil
}

func (f *fakeDetection) Rescore(_ context.Context, id string) (suspicion.Result, error) {
	if _, ok := f.devices[id]; !ok {
		return suspicion.Result{}, detectiondomain.ErrDeviceNotFound
	}
	return suspicion.Result{Score: 72, Level: model.ThreatLevelHigh}, nil
}

func (f *fakeDetection) ListAlerts(_ context.Context, filter detectiondomain.AlertFilter) ([]detectiondomain.Alert, error) {
	f.lastAlerts = filter
	return []model.Alert{}, nil
}

func (f *fakeDetection) AcknowledgeAlert(_ context.Context, id int64) error {
	if id != 7 {
		return detectiondomain.ErrAlertNotFound
	}
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeDetection) SetAlertAction(_ context.Context, id int64, action model.AlertAction) (detectiondomain.Alert, error) {
	if !action.Valid() {
		return detectiondomain.Alert{}, detectiondomain.ErrInvalidAction
	}
	f.action = action
	return model.Alert{ID: id, Action: action, Acknowledged: true}, nil
}

func (f *fakeDetection) ListClusters(context.Context) ([]model.LocationCluster, error) {
	return []model.LocationCluster{}, nil
}

func (f *fakeDetection) Stats(context.Context) (model.Stats, error) {
	return model.Stats{}, errors.New("database is locked")
}

func (f *fakeDetection) Maintain(context.Context) (detectiondomain.MaintenanceReport, error) {
	return detectiondomain.MaintenanceReport{SightingsDeleted: 3}, nil
}

type fakeSettings struct {
	current model.Settings
}

func (s *fakeSettings) Get() model.Settings { return s.current }

func (s *fakeSettings) Replace(_ context.Context, next model.Settings) (model.Settings, error) {
	if next.LowThreshold > 100 {
		return s.current, fmt.Errorf("%w: low threshold", detectiondomain.ErrInvalidSettings)
	}
	s.current = next.Normalize()
	return s.current, nil
}

func (s *fakeSettings) Reset(context.Context) (model.Settings, error) {
	s.current = model.DefaultSettings()
	return s.current, nil
}

type fakeCalibration struct {
	samples int
}

func (c *fakeCalibration) SampleCount(context.Context) int { return c.samples }

func (c *fakeCalibration) ClearSamples(context.Context) error {
	c.samples = 0
	return nil
}

type harness struct {
	detection   *fakeDetection
	settings    *fakeSettings
	calibration *fakeCalibration
	handler     http.Handler
}

func newHarness() *harness {
	h := &harness{
		detection:   newFakeDetection(),
		settings:    &fakeSettings{current: model.DefaultSettings()},
		calibration: &fakeCalibration{samples: 12},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.handler = NewRouter(handlers.New(h.detection, h.settings, h.calibration, nil, logger))
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	return errBody["code"].(string)
}

func TestHealthAndState(t *testing.T) {
	h := newHarness()
	rec, body := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = h.do(t, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["running"])

	rec, body = h.do(t, http.MethodPost, "/api/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["running"])
}

func TestIngestAcceptsObjectOrArray(t *testing.T) {
	h := newHarness()
	rec, body := h.do(t, http.MethodPost, "/api/observations", `{"identifier":"aa","radio_type":"BLE","rssi":-60}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(1), body["accepted"])

	rec, _ = h.do(t, http.MethodPost, "/api/observations", `[{"identifier":"a","radio_type":"BLE"},{"identifier":"b","radio_type":"WIFI_PROBE"}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, h.detection.ingested, 3)

	rec, body = h.do(t, http.MethodPost, "/api/observations", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payload", errorCode(t, body))
}

func TestIngestErrorMapping(t *testing.T) {
	h := newHarness()
	h.detection.ingestErr = fmt.Errorf("observation 0: %w", detectiondomain.ErrInvalidObservation)
	rec, body := h.do(t, http.MethodPost, "/api/observations", `{"identifier":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_observation", errorCode(t, body))

	h.detection.running = false
	rec, body = h.do(t, http.MethodPost, "/api/observations", `{"identifier":"a"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_running", errorCode(t, body))
}

func TestUpdateLocation(t *testing.T) {
	h := newHarness()
	rec, body := h.do(t, http.MethodPost, "/api/location", `{"latitude":52.1,"longitude":4.3,"accuracy":8,"timestamp":"2026-05-02T08:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "cluster")
	assert.Equal(t, 52.1, h.detection.lastPos.Latitude)
	assert.True(t, h.detection.lastAt.Equal(time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)))

	rec, body = h.do(t, http.MethodPost, "/api/location", `{"latitude":95,"longitude":4.3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_position", errorCode(t, body))
}

func TestListDevicesFilters(t *testing.T) {
	h := newHarness()
	rec, _ := h.do(t, http.MethodGet, "/api/devices?suspicious=true&near=true&query=%20tile%20&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	filter := h.detection.lastFilter
	assert.Equal(t, model.DefaultLowThreshold+1, filter.MinScore)
	require.NotNil(t, filter.MinSignal)
	assert.Equal(t, model.DefaultSignalThresholdDBM, *filter.MinSignal)
	assert.Equal(t, "tile", filter.Query)
	assert.Equal(t, 5, filter.Limit)

	rec, body := h.do(t, http.MethodGet, "/api/devices?suspicious=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_suspicious_filter", errorCode(t, body))
}

func TestDeviceRoutes(t *testing.T) {
	h := newHarness()
	rec, body := h.do(t, http.MethodGet, "/api/devices/ble_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "device")

	rec, body = h.do(t, http.MethodGet, "/api/devices/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, body))

	rec, body = h.do(t, http.MethodPatch, "/api/devices/ble_1", `{"whitelisted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["whitelisted"])

	rec, _ = h.do(t, http.MethodPatch, "/api/devices/ble_1", `{"colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/devices/ble_1/rescore", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(72), body["score"])
}

func TestAlertRoutes(t *testing.T) {
	h := newHarness()
	rec, _ := h.do(t, http.MethodGet, "/api/alerts?unacknowledged=true&device_id=ble_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.detection.lastAlerts.UnacknowledgedOnly)
	assert.Equal(t, "ble_1", h.detection.lastAlerts.DeviceID)

	rec, _ = h.do(t, http.MethodPost, "/api/alerts/7/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, h.detection.acked)

	rec, body := h.do(t, http.MethodPost, "/api/alerts/8/ack", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, body))

	rec, body = h.do(t, http.MethodPost, "/api/alerts/abc/ack", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_alert_id", errorCode(t, body))

	rec, body = h.do(t, http.MethodPatch, "/api/alerts/7", `{"action":"WHITELISTED"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "WHITELISTED", body["action"])

	rec, body = h.do(t, http.MethodPatch, "/api/alerts/7", `{"action":"IGNORE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_action", errorCode(t, body))

	rec, body = h.do(t, http.MethodGet, "/api/alerts/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "stream_disabled", errorCode(t, body))
}

func TestSettingsAndCalibrationRoutes(t *testing.T) {
	h := newHarness()
	rec, body := h.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(model.DefaultLowThreshold), body["low_threshold"])

	rec, body = h.do(t, http.MethodPut, "/api/settings", `{"low_threshold":25,"high_threshold":70,"calibration_mode":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(25), body["low_threshold"])
	assert.True(t, h.settings.current.CalibrationMode)

	rec, body = h.do(t, http.MethodPut, "/api/settings", `{"low_threshold":250}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_settings", errorCode(t, body))

	rec, body = h.do(t, http.MethodGet, "/api/calibration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(12), body["sample_count"])
	assert.Equal(t, true, body["calibration_mode"])

	rec, _ = h.do(t, http.MethodDelete, "/api/calibration/samples", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, h.calibration.samples)

	rec, body = h.do(t, http.MethodPost, "/api/settings/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["calibration_mode"])
}

func TestMaintenanceAndStats(t *testing.T) {
	h := newHarness()
	rec, body := h.do(t, http.MethodPost, "/api/maintenance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["sightings_deleted"])

	rec, body = h.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "stats_failed", errorCode(t, body))
}

func TestStripIngressPrefix(t *testing.T) {
	h := newHarness()
	req := httptest.NewRequest(http.MethodGet, "/api/hassio_ingress/abc/api/state", nil)
	req.Header.Set("X-Ingress-Path", "/api/hassio_ingress/abc")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverJSON(t *testing.T) {
	handler := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}
