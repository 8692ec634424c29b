package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/follower-watch/internal/http/handlers"
)

const requestTimeout = 20 * time.Second

// NewRouter builds the HTTP routing tree for the host API.
func NewRouter(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON)
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(api))

	r.Get("/healthz", api.Health)
	r.Route("/api", func(apiRouter chi.Router) {
		// The alert stream is long-lived and must not inherit the request timeout.
		apiRouter.Get("/alerts/stream", api.Stream)

		apiRouter.Group(func(rt chi.Router) {
			rt.Use(middleware.Timeout(requestTimeout))

			rt.Get("/state", api.State)
			rt.Post("/start", api.Start)
			rt.Post("/stop", api.Stop)
			rt.Post("/observations", api.Ingest)
			rt.Post("/location", api.UpdateLocation)

			rt.Get("/devices", api.ListDevices)
			rt.Get("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.GetDevice(w, r, chi.URLParam(r, "id"))
			})
			rt.Patch("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.PatchDevice(w, r, chi.URLParam(r, "id"))
			})
			rt.Post("/devices/{id}/rescore", func(w http.ResponseWriter, r *http.Request) {
				api.RescoreDevice(w, r, chi.URLParam(r, "id"))
			})

			rt.Get("/alerts", api.ListAlerts)
			rt.Post("/alerts/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
				api.AcknowledgeAlert(w, r, chi.URLParam(r, "id"))
			})
			rt.Patch("/alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.PatchAlert(w, r, chi.URLParam(r, "id"))
			})

			rt.Get("/settings", api.GetSettings)
			rt.Put("/settings", api.PutSettings)
			rt.Post("/settings/reset", api.ResetSettings)
			rt.Get("/calibration", api.GetCalibration)
			rt.Delete("/calibration/samples", api.ClearCalibration)

			rt.Post("/maintenance", api.Maintenance)
			rt.Get("/clusters", api.ListClusters)
			rt.Get("/stats", api.Stats)
		})
	})
	return r
}
