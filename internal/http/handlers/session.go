package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gatherly/server/internal/bridge"
	"github.com/gatherly/server/internal/middleware"
	"github.com/gatherly/server/internal/model"
)

// SessionHandler exposes the session lifecycle over HTTP.
type SessionHandler struct {
	manager       *bridge.Manager
	createLimiter *middleware.RateLimiter
}

// NewSessionHandler creates a session handler. Session creation is limited to
// 10 per 10 minutes per owner; each creation costs the relay a pairing slot.
func NewSessionHandler(manager *bridge.Manager) *SessionHandler {
	return &SessionHandler{
		manager:       manager,
		createLimiter: middleware.NewRateLimiter(10*time.Minute, 10),
	}
}

// createSessionResponse is the JSON response for POST /sessions.
type createSessionResponse struct {
	SessionID   string    `json:"session_id"`
	QRCode      string    `json:"qr_code"`
	QRExpiresAt time.Time `json:"qr_expires_at"`
}

// statusResponse is the JSON response for GET /sessions/{sessionID}.
type statusResponse struct {
	SessionID       string     `json:"session_id"`
	Status          string     `json:"status"`
	StatusReason    string     `json:"status_reason,omitempty"`
	DisplayName     *string    `json:"display_name,omitempty"`
	PhoneNumber     *string    `json:"phone_number,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
}

// HandleCreate handles POST /sessions.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.createLimiter.Allow("owner:" + ownerID.String()) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	sessionID, qr, err := h.manager.StartSession(r.Context(), ownerID)
	if err != nil {
		log.Printf("start session for owner %s: %v", ownerID, err)
		if errors.Is(err, model.ErrSessionEstablishmentFailed) {
			respondWithError(w, http.StatusBadGateway, "session_establishment_failed")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createSessionResponse{
		SessionID:   sessionID.String(),
		QRCode:      qr.Code,
		QRExpiresAt: qr.ExpiresAt,
	})
}

// HandleStatus handles GET /sessions/{sessionID}.
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "session not found")
		return
	}

	s, err := h.manager.CheckStatus(r.Context(), sessionID, ownerID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("check status of session %s: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to check session status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(statusResponse{
		SessionID:       s.ID.String(),
		Status:          string(s.Status),
		StatusReason:    s.StatusReason,
		DisplayName:     s.DisplayName,
		PhoneNumber:     s.PhoneNumber,
		LastConnectedAt: s.LastConnectedAt,
	})
}

// HandleDisconnect handles POST /sessions/{sessionID}/disconnect. Repeated
// disconnects succeed; teardown is idempotent.
func (h *SessionHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := h.manager.Disconnect(r.Context(), sessionID, ownerID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("disconnect session %s: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to disconnect session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "disconnected"})
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
