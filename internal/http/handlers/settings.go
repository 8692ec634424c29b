package handlers

import (
	"net/http"

	"github.com/micro-ha/follower-watch/internal/model"
)

func (a *API) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.settings.Get())
}

// PutSettings replaces the whole settings document. Omitted fields fall back
// to their defaults.
func (a *API) PutSettings(w http.ResponseWriter, r *http.Request) {
	var payload model.Settings
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	updated, err := a.settings.Replace(r.Context(), payload)
	if err != nil {
		a.writeDomainError(w, err, "settings_failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) ResetSettings(w http.ResponseWriter, r *http.Request) {
	updated, err := a.settings.Reset(r.Context())
	if err != nil {
		a.writeDomainError(w, err, "settings_failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// GetCalibration reports calibration mode, sample count and the thresholds
// currently in force.
func (a *API) GetCalibration(w http.ResponseWriter, r *http.Request) {
	s := a.settings.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"calibration_mode": s.CalibrationMode,
		"sample_count":     a.calibration.SampleCount(r.Context()),
		"low_threshold":    s.LowThreshold,
		"high_threshold":   s.HighThreshold,
	})
}

func (a *API) ClearCalibration(w http.ResponseWriter, r *http.Request) {
	if err := a.calibration.ClearSamples(r.Context()); err != nil {
		a.writeDomainError(w, err, "calibration_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
