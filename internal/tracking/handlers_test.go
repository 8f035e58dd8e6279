package tracking

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SiteMedic/SM-Backend/internal/utils"
)

func asMedic(medicID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if medicID != "" {
				r = r.WithContext(utils.WithMedicID(r.Context(), medicID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passThrough(next http.Handler) http.Handler { return next }

func newTestRouter(t *testing.T, medicID string) (http.Handler, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return SetupRoutes(&Handlers{Service: env.svc}, asMedic(medicID), passThrough), env
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTrackingRoutesFlow(t *testing.T) {
	router, env := newTestRouter(t, testMedic)

	rr := do(t, router, http.MethodPost, "/sessions", map[string]string{"bookingId": testBooking})
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var sess TrackingSession
	if err := json.NewDecoder(rr.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}

	rr = do(t, router, http.MethodPost, "/fixes", fixFor(sess, 1, siteLat, siteLng, accuracy(5), env.now))
	if rr.Code != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ack IngestResult
	if err := json.NewDecoder(rr.Body).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.IdempotencyKey != sess.ID.String()+":1" || ack.Classification != ClassInside || !ack.OnSite {
		t.Errorf("unexpected ack: %+v", ack)
	}

	rr = do(t, router, http.MethodPost, "/arrive", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("arrive while on site: expected 409, got %d", rr.Code)
	}

	rr = do(t, router, http.MethodPost, "/depart", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("depart: expected 200, got %d", rr.Code)
	}

	rr = do(t, router, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	var st map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"isTracking", "insideGeofence", "queueSize", "batteryLevel"} {
		if _, ok := st[key]; !ok {
			t.Errorf("status missing %q: %v", key, st)
		}
	}
	if st["onSite"] != false {
		t.Errorf("expected traveling after depart, got %v", st["onSite"])
	}

	rr = do(t, router, http.MethodPost, "/sessions/stop", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("stop: expected 200, got %d", rr.Code)
	}
	rr = do(t, router, http.MethodPost, "/sessions/stop", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second stop: expected 404, got %d", rr.Code)
	}
}

func TestTrackingRoutesErrors(t *testing.T) {
	router, env := newTestRouter(t, testMedic)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"arrive without session", http.MethodPost, "/arrive", nil, http.StatusNotFound},
		{"depart without session", http.MethodPost, "/depart", nil, http.StatusNotFound},
		{"start without booking", http.MethodPost, "/sessions", map[string]string{}, http.StatusBadRequest},
		{"fix without key", http.MethodPost, "/fixes", FixRequest{BookingID: testBooking, Lat: siteLat, Lng: siteLng, RecordedAt: env.now}, http.StatusBadRequest},
		{"fix for unknown pair", http.MethodPost, "/fixes", FixRequest{BookingID: "other", IdempotencyKey: "x:1", Lat: siteLat, Lng: siteLng, RecordedAt: env.now}, http.StatusNotFound},
		{"status without session", http.MethodGet, "/status", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, router, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestTrackingRoutesRequireMedic(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rr := do(t, router, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestIngestRouteUsesLimiter(t *testing.T) {
	env := newTestEnv(t)
	limited := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
		})
	}
	router := SetupRoutes(&Handlers{Service: env.svc}, asMedic(testMedic), limited)

	if rr := do(t, router, http.MethodPost, "/fixes", FixRequest{}); rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 on fixes, got %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/status", nil); rr.Code != http.StatusOK {
		t.Errorf("expected limiter scoped to fixes, got %d", rr.Code)
	}
}
