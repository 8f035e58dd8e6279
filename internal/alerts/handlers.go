package alerts

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handlers serves the operator side of the alert sink.
type Handlers struct {
	Dedup *Deduplicator
	Store Store
	Hub   *Hub
}

// ListAlerts returns alerts, open first.
// Query: status=open|resolved, medic_id and booking_id (comma separated), limit.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := Filter{
		Status:     q.Get("status"),
		MedicIDs:   splitList(q.Get("medic_id")),
		BookingIDs: splitList(q.Get("booking_id")),
	}
	if f.Status != "" && f.Status != "open" && f.Status != "resolved" {
		http.Error(w, "status must be open or resolved", http.StatusBadRequest)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	list, err := h.Store.List(r.Context(), f)
	if err != nil {
		log.Printf("[alerts] list failed: %v", err)
		http.Error(w, "Failed to fetch alerts", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []MedicAlert{}
	}

	writeJSON(w, http.StatusOK, list)
}

type resolveRequest struct {
	Note string `json:"note"`
}

// ResolveAlert closes an open alert on behalf of an operator.
func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "alert_id"))
	if err != nil {
		http.Error(w, "Invalid alert id", http.StatusBadRequest)
		return
	}

	var req resolveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	a, err := h.Dedup.Resolve(r.Context(), id, strings.TrimSpace(req.Note))
	switch {
	case errors.Is(err, ErrAlertNotFound):
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrAlreadyResolved):
		http.Error(w, "Alert already resolved", http.StatusConflict)
		return
	case err != nil:
		log.Printf("[alerts] resolve %s failed: %v", id, err)
		http.Error(w, "Failed to resolve alert", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
