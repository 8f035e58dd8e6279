package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/utils"
)

// DeviceSessionFetcher resolves a raw bearer value to a device session.
type DeviceSessionFetcher interface {
	FindDeviceSession(bearer string) (utils.DeviceSession, error)
}

// DeviceAuthMiddleware requires "Authorization: Bearer <token>" and puts the
// medic id in the request context.
func DeviceAuthMiddleware(fetcher DeviceSessionFetcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			bearer, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(bearer) == "" {
				http.Error(w, "Missing bearer token", http.StatusUnauthorized)
				return
			}

			session, err := fetcher.FindDeviceSession(bearer)
			if err != nil {
				http.Error(w, "Invalid device token", http.StatusUnauthorized)
				return
			}

			if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(time.Now()) {
				http.Error(w, "Device token expired", http.StatusUnauthorized)
				return
			}

			ctx := utils.WithMedicID(r.Context(), session.MedicID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorKeyMiddleware guards operator routes with a shared key sent as
// X-Operator-Key. An empty key disables the check (local development).
func OperatorKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Operator-Key")
			if got == "" {
				// Browsers cannot set headers on websocket upgrades.
				got = r.URL.Query().Get("operator_key")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, "Forbidden: operator access required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var defaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:5174",
}

// CORSMiddleware echoes allow-listed origins. extra is appended to the
// local development origins.
func CORSMiddleware(extra []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(defaultOrigins)+len(extra))
	for _, o := range defaultOrigins {
		allowed[o] = struct{}{}
	}
	for _, o := range extra {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Echo the origin back only if it's on our allow-list
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods",
					"GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers",
					"Content-Type, Authorization, X-Operator-Key")
			}

			w.Header().Set("Access-Control-Expose-Headers", "Retry-After, Cache-Control")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
