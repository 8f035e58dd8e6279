package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	Issuer *Issuer
}

type issueRequest struct {
	MedicID string `json:"medic_id"`
	Label   string `json:"label"`
	TTL     string `json:"ttl"`
}

type issueResponse struct {
	Token  DeviceToken `json:"token"`
	Bearer string      `json:"bearer"`
}

// IssueDeviceToken creates a token for a medic's device. The bearer value is
// only ever returned here.
func (h *Handlers) IssueDeviceToken(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid Request Format", http.StatusBadRequest)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			http.Error(w, "Invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = d
	}

	tok, bearer, err := h.Issuer.Issue(r.Context(), req.MedicID, req.Label, ttl)
	if errors.Is(err, ErrMissingMedicID) {
		http.Error(w, "medic_id is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("[auth] issue token failed: %v", err)
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(issueResponse{Token: tok, Bearer: bearer})
}

func (h *Handlers) RevokeDeviceToken(w http.ResponseWriter, r *http.Request) {
	err := h.Issuer.Revoke(r.Context(), chi.URLParam(r, "token_id"))
	if errors.Is(err, ErrUnknownToken) {
		http.Error(w, "Token not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[auth] revoke token failed: %v", err)
		http.Error(w, "Failed to revoke token", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
