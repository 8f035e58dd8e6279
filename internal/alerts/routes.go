package alerts

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes mounts the operator alert sink. mw guards every route,
// including the websocket feed.
func SetupRoutes(h *Handlers, mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(mw...)

		r.Get("/", h.ListAlerts)
		r.Post("/{alert_id}/resolve", h.ResolveAlert)
		r.Get("/feed", h.Hub.ServeWS)
	})

	return r
}
