package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a WhatsApp session.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusPending      SessionStatus = "pending"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusError        SessionStatus = "error"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusInitializing, StatusPending, StatusConnecting,
		StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// Terminal reports whether a session in this status can never progress again.
// A new session is required to reconnect.
func (s SessionStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Session is a persisted WhatsApp session row. The encrypted credential blob
// and its key material live side by side, so anyone with store access can
// decrypt; that is a known trade-off of the current design, not an accident.
// A stronger variant would hold the key in an external KMS.
type Session struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Status          SessionStatus
	StatusReason    string
	SessionBlob     []byte
	KeyMaterial     []byte
	DisplayName     *string
	PhoneNumber     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastConnectedAt *time.Time
}

// QRArtifact is the ephemeral pairing token shown to the user while a session
// is pending. It is never persisted; a new one is issued per connect attempt.
type QRArtifact struct {
	SessionID uuid.UUID
	Code      string
	ExpiresAt time.Time
}

// OutboundMessage is a transient send request. The core does not persist it.
type OutboundMessage struct {
	Recipient string
	Body      string
	MediaRef  string
}

// DeliveryResult reports a successful transmission.
type DeliveryResult struct {
	DeliveryID string
	SentAt     time.Time
}
