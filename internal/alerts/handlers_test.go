package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func newTestRouter(t *testing.T) (http.Handler, *Deduplicator, *Hub) {
	t.Helper()
	d, store, _, _, _ := newTestDedup(t)
	hub := NewHub(nil)
	d.notifier = hub
	return SetupRoutes(&Handlers{Dedup: d, Store: store, Hub: hub}), d, hub
}

func TestListAlertsOpenFirst(t *testing.T) {
	router, d, _ := newTestRouter(t)
	ctx := context.Background()

	first, _, _ := d.RaiseBreach(ctx, breachAt(200))
	if _, err := d.Resolve(ctx, first.ID, "false alarm"); err != nil {
		t.Fatal(err)
	}
	other := breachAt(400)
	other.MedicID = "medic-2"
	open, _, _ := d.RaiseBreach(ctx, other)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var list []MedicAlert
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != open.ID {
		t.Fatalf("expected open alert first, got %+v", list)
	}

	req = httptest.NewRequest(http.MethodGet, "/?status=open&medic_id=medic-1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	list = nil
	_ = json.NewDecoder(rr.Body).Decode(&list)
	if len(list) != 0 {
		t.Errorf("expected no open alerts for medic-1, got %d", len(list))
	}
}

func TestListAlertsRejectsBadStatus(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?status=pending", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestResolveAlertHandler(t *testing.T) {
	router, d, _ := newTestRouter(t)
	a, _, _ := d.RaiseBreach(context.Background(), breachAt(220))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"resolves open alert", "/" + a.ID.String() + "/resolve", http.StatusOK},
		{"already resolved", "/" + a.ID.String() + "/resolve", http.StatusConflict},
		{"unknown alert", "/" + uuid.NewString() + "/resolve", http.StatusNotFound},
		{"bad id", "/not-a-uuid/resolve", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"note":"checked in by phone"}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRoutesApplyMiddleware(t *testing.T) {
	d, store, _, _, _ := newTestDedup(t)
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
	router := SetupRoutes(&Handlers{Dedup: d, Store: store, Hub: NewHub(nil)}, deny)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestFeedDeliversAlerts(t *testing.T) {
	router, d, hub := newTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	a, _, err := d.RaiseBreach(ctx, breachAt(260))
	if err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg FeedMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != FeedAlertCreated || msg.Alert.ID != a.ID {
		t.Errorf("unexpected feed message: %+v", msg)
	}
}

func TestHubRejectsUnknownOrigin(t *testing.T) {
	hub := NewHub([]string{"https://ops.sitemedic.example"})

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set("Origin", "https://evil.example")
	if hub.upgrader.CheckOrigin(req) {
		t.Error("expected unknown origin to be rejected")
	}
	req.Header.Set("Origin", "https://ops.sitemedic.example")
	if !hub.upgrader.CheckOrigin(req) {
		t.Error("expected allowed origin to pass")
	}
}
