package tracking

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes mounts the device-facing tracking API. deviceAuth resolves the
// bearer token to a medic; ingestLimit throttles the ingestion route.
func SetupRoutes(h *Handlers, deviceAuth, ingestLimit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(deviceAuth)

		r.Post("/sessions", h.StartSession)
		r.Post("/sessions/stop", h.StopSession)
		r.Post("/arrive", h.MarkArrived)
		r.Post("/depart", h.MarkDeparture)
		r.Get("/status", h.GetStatus)

		r.With(ingestLimit).Post("/fixes", h.IngestFix)
	})

	return r
}
