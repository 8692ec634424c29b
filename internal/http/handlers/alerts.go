package handlers

import (
	"net/http"
	"strconv"
	"strings"

	detectiondomain "github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
)

type alertActionPayload struct {
	Action model.AlertAction `json:"action"`
}

// ListAlerts returns alerts newest first.
func (a *API) ListAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	unacked, ok := parseBoolParam(w, query.Get("unacknowledged"), "unacknowledged")
	if !ok {
		return
	}
	limit, ok := parseLimit(w, query.Get("limit"))
	if !ok {
		return
	}
	filter := detectiondomain.AlertFilter{
		UnacknowledgedOnly: unacked,
		DeviceID:           strings.TrimSpace(query.Get("device_id")),
		Limit:              limit,
	}
	items, err := a.detection.ListAlerts(r.Context(), filter)
	if err != nil {
		a.writeDomainError(w, err, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseAlertID(w, rawID)
	if !ok {
		return
	}
	if err := a.detection.AcknowledgeAlert(r.Context(), id); err != nil {
		a.writeDomainError(w, err, "ack_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PatchAlert records the user's action for an alert.
func (a *API) PatchAlert(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseAlertID(w, rawID)
	if !ok {
		return
	}
	var payload alertActionPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	alert, err := a.detection.SetAlertAction(r.Context(), id, payload.Action)
	if err != nil {
		a.writeDomainError(w, err, "action_failed")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// Stream upgrades to the live alert websocket.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, http.StatusNotFound, "stream_disabled", "Alert stream not available")
		return
	}
	a.stream.ServeHTTP(w, r)
}

func parseAlertID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_alert_id", "alert id must be a positive integer")
		return 0, false
	}
	return id, true
}
