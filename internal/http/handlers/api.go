package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	detectiondomain "github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
)

// SettingsManager reads and replaces the detection settings document.
type SettingsManager interface {
	Get() model.Settings
	Replace(ctx context.Context, s model.Settings) (model.Settings, error)
	Reset(ctx context.Context) (model.Settings, error)
}

// Calibration exposes the calibration sample set.
type Calibration interface {
	SampleCount(ctx context.Context) int
	ClearSamples(ctx context.Context) error
}

// API groups HTTP handlers and dependencies.
type API struct {
	detection   detectiondomain.Service
	settings    SettingsManager
	calibration Calibration
	stream      http.Handler
	logger      *slog.Logger
}

// New creates HTTP handlers with explicit dependencies. stream serves the
// live alert websocket and may be nil.
func New(
	detection detectiondomain.Service,
	settings SettingsManager,
	calibration Calibration,
	stream http.Handler,
	logger *slog.Logger,
) *API {
	return &API{
		detection:   detection,
		settings:    settings,
		calibration: calibration,
		stream:      stream,
		logger:      logger,
	}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports service liveness and pipeline state.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	state := a.detection.State()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": state.Running, "tier": state.Tier})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// writeDomainError maps detection sentinels to status codes; anything else is
// reported as a 500 with fallbackCode.
func (a *API) writeDomainError(w http.ResponseWriter, err error, fallbackCode string) {
	switch {
	case errors.Is(err, detectiondomain.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Device not found")
	case errors.Is(err, detectiondomain.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Alert not found")
	case errors.Is(err, detectiondomain.ErrInvalidObservation):
		writeError(w, http.StatusBadRequest, "invalid_observation", err.Error())
	case errors.Is(err, detectiondomain.ErrInvalidPosition):
		writeError(w, http.StatusBadRequest, "invalid_position", err.Error())
	case errors.Is(err, detectiondomain.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "invalid_action", err.Error())
	case errors.Is(err, detectiondomain.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, "invalid_settings", err.Error())
	case errors.Is(err, detectiondomain.ErrNotRunning):
		writeError(w, http.StatusConflict, "not_running", "Detection is stopped")
	default:
		a.logger.Error("request failed", "code", fallbackCode, "err", err)
		writeError(w, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}
