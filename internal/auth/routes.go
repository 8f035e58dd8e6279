package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes mounts operator-only token management behind mw.
func SetupRoutes(h *Handlers, mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(mw...)

		r.Post("/device-tokens", h.IssueDeviceToken)
		r.Delete("/device-tokens/{token_id}", h.RevokeDeviceToken)
	})

	return r
}
