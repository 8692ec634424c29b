package handlers

import (
	"net/http"
	"strconv"
	"strings"

	detectiondomain "github.com/micro-ha/follower-watch/internal/domain/detection"
)

// ListDevices returns devices ordered by score. suspicious=true keeps scores
// above the low threshold, near=true keeps devices at or above the signal
// threshold.
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	settings := a.settings.Get()
	filter := detectiondomain.ListFilter{Query: strings.TrimSpace(query.Get("query"))}

	suspicious, ok := parseBoolParam(w, query.Get("suspicious"), "suspicious")
	if !ok {
		return
	}
	if suspicious {
		filter.MinScore = settings.LowThreshold + 1
	}
	near, ok := parseBoolParam(w, query.Get("near"), "near")
	if !ok {
		return
	}
	if near {
		threshold := settings.SignalThresholdDBM
		filter.MinSignal = &threshold
	}
	limit, ok := parseLimit(w, query.Get("limit"))
	if !ok {
		return
	}
	filter.Limit = limit

	items, err := a.detection.ListDevices(r.Context(), filter)
	if err != nil {
		a.writeDomainError(w, err, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetDevice returns one device with its recent sightings and score breakdown.
func (a *API) GetDevice(w http.ResponseWriter, r *http.Request, id string) {
	detail, err := a.detection.GetDevice(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, err, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// PatchDevice sets the whitelisted and flagged marks.
func (a *API) PatchDevice(w http.ResponseWriter, r *http.Request, id string) {
	var patch detectiondomain.DevicePatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	device, err := a.detection.PatchDevice(r.Context(), id, patch)
	if err != nil {
		a.writeDomainError(w, err, "patch_failed")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (a *API) RescoreDevice(w http.ResponseWriter, r *http.Request, id string) {
	result, err := a.detection.Rescore(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, err, "rescore_failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) ListClusters(w http.ResponseWriter, r *http.Request) {
	items, err := a.detection.ListClusters(r.Context())
	if err != nil {
		a.writeDomainError(w, err, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseBoolParam(w http.ResponseWriter, raw, name string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name+"_filter", name+" must be true or false")
		return false, false
	}
	return value, true
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return value, true
}
