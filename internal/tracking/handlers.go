package tracking

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/SiteMedic/SM-Backend/internal/utils"
)

type Handlers struct {
	Service *Service
}

type startSessionRequest struct {
	BookingID string `json:"bookingId"`
	SessionID string `json:"sessionId"`
}

type stopSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// StartSession arms tracking for the caller on a booking.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	medicID, ok := utils.GetMedicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.Service.StartSession(r.Context(), medicID, req.BookingID, req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// StopSession deactivates the caller's session, or the one named in the body.
func (h *Handlers) StopSession(w http.ResponseWriter, r *http.Request) {
	medicID, ok := utils.GetMedicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req stopSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	sess, err := h.Service.StopSession(r.Context(), medicID, req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// IngestFix is the device ingestion endpoint.
func (h *Handlers) IngestFix(w http.ResponseWriter, r *http.Request) {
	medicID, ok := utils.GetMedicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.Service.Ingest(r.Context(), medicID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) MarkArrived(w http.ResponseWriter, r *http.Request) {
	medicID, ok := utils.GetMedicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := h.Service.MarkArrived(r.Context(), medicID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sess))
}

func (h *Handlers) MarkDeparture(w http.ResponseWriter, r *http.Request) {
	medicID, ok := utils.GetMedicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := h.Service.MarkDeparture(r.Context(), medicID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sess))
}

// GetStatus returns the banner read model for the caller.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	medicID, ok := utils.GetMedicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	st, err := h.Service.Status(r.Context(), medicID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidFix), errors.Is(err, ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrSessionMismatch):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAlreadyOnSite), errors.Is(err, ErrNotOnSite):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("[tracking] request failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
