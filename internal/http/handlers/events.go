package handlers

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/gatherly/server/internal/bridge"
	"github.com/gatherly/server/internal/model"
)

// EventHandler receives scan-progress webhooks from the relay node. It is the
// only path by which the external handshake reaches the session store.
type EventHandler struct {
	manager *bridge.Manager
	secret  string
}

// NewEventHandler creates a webhook handler authenticated by a shared secret.
func NewEventHandler(manager *bridge.Manager, secret string) *EventHandler {
	return &EventHandler{manager: manager, secret: secret}
}

// relayEventRequest is the webhook body pushed by the relay.
type relayEventRequest struct {
	SessionID   string `json:"session_id"`
	Event       string `json:"event"` // connecting | connected | failed
	DisplayName string `json:"display_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Credentials string `json:"credentials,omitempty"` // base64 session material
	Reason      string `json:"reason,omitempty"`
}

// HandleEvent handles POST /internal/events.
func (h *EventHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Relay-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		respondWithError(w, http.StatusUnauthorized, "invalid relay secret")
		return
	}

	var req relayEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "session not found")
		return
	}

	ev := bridge.RemoteEvent{
		Type:        bridge.RemoteEventType(req.Event),
		DisplayName: req.DisplayName,
		PhoneNumber: req.PhoneNumber,
		Reason:      req.Reason,
	}
	if req.Credentials != "" {
		creds, err := base64.StdEncoding.DecodeString(req.Credentials)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "malformed credentials")
			return
		}
		ev.Credentials = creds
	}

	if err := h.manager.ApplyRemoteEvent(r.Context(), sessionID, ev); err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, model.ErrInvalidTransition):
			log.Printf("relay event %q for session %s: %v", req.Event, sessionID, err)
			respondWithError(w, http.StatusConflict, "invalid_transition")
		case errors.Is(err, model.ErrSessionEstablishmentFailed):
			respondWithError(w, http.StatusConflict, "establishment_timed_out")
		default:
			log.Printf("relay event %q for session %s: %v", req.Event, sessionID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to apply event")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "accepted"})
}
