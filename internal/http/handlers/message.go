package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/server/internal/gateway"
	"github.com/gatherly/server/internal/middleware"
	"github.com/gatherly/server/internal/model"
)

// MessageHandler exposes outbound message sending.
type MessageHandler struct {
	gateway     *gateway.Gateway
	sendLimiter *middleware.RateLimiter
}

// NewMessageHandler creates a message handler (60 sends per minute per owner).
func NewMessageHandler(gw *gateway.Gateway) *MessageHandler {
	return &MessageHandler{
		gateway:     gw,
		sendLimiter: middleware.NewRateLimiter(time.Minute, 60),
	}
}

// sendRequest is the request body for POST /messages.
type sendRequest struct {
	SessionID string `json:"session_id"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	MediaRef  string `json:"media_ref,omitempty"`
}

// sendResponse is the JSON response for a successful send.
type sendResponse struct {
	Success    bool   `json:"success"`
	DeliveryID string `json:"delivery_id"`
}

// HandleSend handles POST /messages.
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.SessionID == "" || req.Recipient == "" || req.Body == "" {
		respondWithError(w, http.StatusBadRequest, "session_id, recipient and body are required")
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "session not found")
		return
	}

	if !h.sendLimiter.Allow("owner:" + ownerID.String()) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	result, err := h.gateway.Send(r.Context(), sessionID, ownerID, model.OutboundMessage{
		Recipient: req.Recipient,
		Body:      req.Body,
		MediaRef:  req.MediaRef,
	})
	if err != nil {
		h.respondSendError(w, sessionID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sendResponse{Success: true, DeliveryID: result.DeliveryID})
}

// respondSendError maps gateway failures onto the HTTP surface. The status
// codes tell the caller whether retrying is worth it: 502 is transient, 409
// and 410 mean the lifecycle has to be re-run.
func (h *MessageHandler) respondSendError(w http.ResponseWriter, sessionID uuid.UUID, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, model.ErrRecipientInvalid):
		respondWithError(w, http.StatusUnprocessableEntity, "recipient_invalid")
	case errors.Is(err, model.ErrSessionNotReady):
		respondWithError(w, http.StatusConflict, "session_not_ready")
	case errors.Is(err, model.ErrSessionExpired):
		respondWithError(w, http.StatusGone, "session_expired")
	case errors.Is(err, model.ErrChannelUnavailable):
		respondWithError(w, http.StatusBadGateway, "channel_unavailable")
	case errors.Is(err, model.ErrCrypto):
		log.Printf("send via session %s: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "session_credentials_corrupt")
	default:
		log.Printf("send via session %s: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to send message")
	}
}
