package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/middleware"
	"github.com/SiteMedic/SM-Backend/internal/utils"
	"github.com/go-chi/chi/v5"
)

// mockFetcher implements middleware.DeviceSessionFetcher without any database dependency.
type mockFetcher struct {
	session utils.DeviceSession
	err     error
	got     *string
}

func (m mockFetcher) FindDeviceSession(bearer string) (utils.DeviceSession, error) {
	if m.got != nil {
		*m.got = bearer
	}
	return m.session, m.err
}

// callWithAuth wraps an inner handler that echoes the medic id, optionally
// setting the Authorization header, and returns the recorded response.
func callWithAuth(t *testing.T, mw func(http.Handler) http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		medicID, _ := utils.GetMedicIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(medicID))
	})

	handler := mw(inner)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestDeviceAuth_MissingHeader verifies that a request without a bearer token gets 401.
func TestDeviceAuth_MissingHeader(t *testing.T) {
	mw := middleware.DeviceAuthMiddleware(mockFetcher{})

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		rec := callWithAuth(t, mw, header)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

// TestDeviceAuth_FetcherError verifies that an unknown or bad token gets 401.
func TestDeviceAuth_FetcherError(t *testing.T) {
	mw := middleware.DeviceAuthMiddleware(mockFetcher{err: errors.New("unknown device token")})

	rec := callWithAuth(t, mw, "Bearer abc.def")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// TestDeviceAuth_Expired verifies that an expired token gets 401 with a clear message.
func TestDeviceAuth_Expired(t *testing.T) {
	mw := middleware.DeviceAuthMiddleware(mockFetcher{session: utils.DeviceSession{
		MedicID:   "medic-1",
		ExpiresAt: time.Now().Add(-time.Hour),
	}})

	rec := callWithAuth(t, mw, "Bearer abc.def")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Device token expired") {
		t.Errorf("expected expiry message, got %q", rec.Body.String())
	}
}

// TestDeviceAuth_Valid verifies the medic id reaches the handler and the raw
// bearer value reaches the fetcher.
func TestDeviceAuth_Valid(t *testing.T) {
	var got string
	mw := middleware.DeviceAuthMiddleware(mockFetcher{
		session: utils.DeviceSession{MedicID: "medic-1"},
		got:     &got,
	})

	rec := callWithAuth(t, mw, "Bearer tok.secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "medic-1" {
		t.Errorf("expected medic-1 in context, got %q", rec.Body.String())
	}
	if got != "tok.secret" {
		t.Errorf("expected fetcher to receive the bearer value, got %q", got)
	}
}

func TestOperatorKeyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		key    string
		header string
		query  string
		want   int
	}{
		{"disabled", "", "", "", http.StatusOK},
		{"missing", "k1", "", "", http.StatusForbidden},
		{"wrong", "k1", "k2", "", http.StatusForbidden},
		{"header", "k1", "k1", "", http.StatusOK},
		{"query for websocket", "k1", "", "k1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/alerts"
			if tt.query != "" {
				target += "?operator_key=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Operator-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			middleware.OperatorKeyMiddleware(tt.key)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := middleware.CORSMiddleware([]string{"https://ops.sitemedic.example"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://ops.sitemedic.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.sitemedic.example" {
		t.Errorf("expected origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin for unknown origin, got %q", got)
	}
}

func TestMedicLimiter(t *testing.T) {
	limiter := middleware.NewMedicLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(medicID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/tracking/fixes", nil)
		if medicID != "" {
			req = req.WithContext(utils.WithMedicID(req.Context(), medicID))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("medic-1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := call("medic-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	if rec := call("medic-2"); rec.Code != http.StatusOK {
		t.Errorf("expected separate bucket per medic, got %d", rec.Code)
	}
	if rec := call(""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without medic, got %d", rec.Code)
	}
}

func TestPrometheusMiddlewareKeepsStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.PrometheusMiddleware)
	r.Get("/tracking/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracking/status", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status to pass through, got %d", rec.Code)
	}
}
