package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/micro-ha/follower-watch/internal/model"
)

const maxIngestBody = 4 << 20

type locationPayload struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  float64    `json:"accuracy"`
	Timestamp *time.Time `json:"timestamp"`
}

// State reports whether detection runs and at which capture tier.
func (a *API) State(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.detection.State())
}

func (a *API) Start(w http.ResponseWriter, _ *http.Request) {
	a.detection.Start()
	writeJSON(w, http.StatusOK, a.detection.State())
}

func (a *API) Stop(w http.ResponseWriter, _ *http.Request) {
	a.detection.Stop()
	writeJSON(w, http.StatusOK, a.detection.State())
}

// Ingest accepts one observation or an array of them.
func (a *API) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Unreadable body")
		return
	}
	observations, err := model.DecodeObservations(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	result, err := a.detection.Ingest(r.Context(), observations)
	if err != nil {
		a.writeDomainError(w, err, "ingest_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// UpdateLocation records the user's current position fix.
func (a *API) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var payload locationPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	var at time.Time
	if payload.Timestamp != nil {
		at = payload.Timestamp.UTC()
	}
	pos := model.Position{Latitude: payload.Latitude, Longitude: payload.Longitude, Accuracy: payload.Accuracy}
	cluster, err := a.detection.UpdateLocation(r.Context(), pos, at)
	if err != nil {
		a.writeDomainError(w, err, "location_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster": cluster})
}

// Maintenance runs one retention pass synchronously.
func (a *API) Maintenance(w http.ResponseWriter, r *http.Request) {
	report, err := a.detection.Maintain(r.Context())
	if err != nil {
		a.writeDomainError(w, err, "maintenance_failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.detection.Stats(r.Context())
	if err != nil {
		a.writeDomainError(w, err, "stats_failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
