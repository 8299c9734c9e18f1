// Package bridge orchestrates the WhatsApp session lifecycle: QR issuance,
// the externally driven handshake, and teardown. All shared state lives in
// the session store; the manager itself can run as many concurrent handler
// instances as needed.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gatherly/server/internal/channel"
	"github.com/gatherly/server/internal/model"
	"github.com/gatherly/server/internal/repo"
	"github.com/gatherly/server/internal/vault"
)

// DefaultEstablishTimeout is the upper bound on how long a session may sit in
// pending/connecting before it is considered failed.
const DefaultEstablishTimeout = 5 * time.Minute

// transitions is the allowed lifecycle graph. Anything not listed is an
// InvalidTransition.
var transitions = map[model.SessionStatus][]model.SessionStatus{
	model.StatusInitializing: {model.StatusPending, model.StatusError},
	model.StatusPending:      {model.StatusConnecting, model.StatusConnected, model.StatusDisconnected, model.StatusError},
	model.StatusConnecting:   {model.StatusConnected, model.StatusDisconnected, model.StatusError},
	model.StatusConnected:    {model.StatusDisconnected},
}

func canTransition(from, to model.SessionStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// RemoteEventType classifies scan events pushed by the relay node.
type RemoteEventType string

const (
	EventConnecting RemoteEventType = "connecting"
	EventConnected  RemoteEventType = "connected"
	EventFailed     RemoteEventType = "failed"
)

// RemoteEvent is an externally observed change to a pending handshake.
type RemoteEvent struct {
	Type        RemoteEventType
	DisplayName string
	PhoneNumber string
	Credentials []byte // full session material, present on connected
	Reason      string
}

// Manager drives session lifecycle transitions against the store.
type Manager struct {
	sessions         repo.SessionRepo
	channel          channel.Channel
	establishTimeout time.Duration

	// statusGroup collapses concurrent status polls for the same session
	// into one store read.
	statusGroup singleflight.Group
}

// NewManager creates a lifecycle manager. A non-positive establishTimeout
// falls back to DefaultEstablishTimeout.
func NewManager(sessions repo.SessionRepo, ch channel.Channel, establishTimeout time.Duration) *Manager {
	if establishTimeout <= 0 {
		establishTimeout = DefaultEstablishTimeout
	}
	return &Manager{
		sessions:         sessions,
		channel:          ch,
		establishTimeout: establishTimeout,
	}
}

// StartSession begins a new pairing attempt for the owner and returns the
// session id plus the QR artifact to display. Any prior active session for
// the owner is superseded (moved to disconnected) first; two live sessions
// per owner never coexist.
func (m *Manager) StartSession(ctx context.Context, ownerID uuid.UUID) (uuid.UUID, model.QRArtifact, error) {
	if prior, err := m.sessions.GetActiveForOwner(ctx, ownerID); err == nil {
		upd := snapshotOf(prior)
		upd.Status = model.StatusDisconnected
		upd.StatusReason = "superseded by new session"
		if err := m.sessions.Update(ctx, prior.ID, ownerID, upd); err != nil {
			return uuid.Nil, model.QRArtifact{}, fmt.Errorf("supersede prior session: %w", err)
		}
		log.Printf("session %s superseded for owner %s", prior.ID, ownerID)
	} else if !errors.Is(err, model.ErrNotFound) {
		return uuid.Nil, model.QRArtifact{}, fmt.Errorf("look up active session: %w", err)
	}

	qrCode, creds, err := m.channel.NewLogin(ctx)
	if err != nil {
		return uuid.Nil, model.QRArtifact{}, fmt.Errorf("%w: %v", model.ErrSessionEstablishmentFailed, err)
	}

	blob, keyMaterial, err := vault.Encrypt(creds)
	if err != nil {
		return uuid.Nil, model.QRArtifact{}, fmt.Errorf("encrypt placeholder credentials: %w", err)
	}

	// The row is born pending: QR generation and encryption are exactly the
	// initializing->pending edge, and nothing before that point is worth a row.
	id, err := m.sessions.Create(ctx, ownerID, model.StatusPending, blob, keyMaterial)
	if err != nil {
		return uuid.Nil, model.QRArtifact{}, fmt.Errorf("persist session: %w", err)
	}

	return id, model.QRArtifact{
		SessionID: id,
		Code:      qrCode,
		ExpiresAt: time.Now().Add(m.establishTimeout),
	}, nil
}

// CheckStatus is the idempotent, side-effect-free read the poller hammers. A
// session stuck in pending/connecting past the establishment deadline is
// reported as error without a write; persistence catches up on the next
// mutating call or relay event.
func (m *Manager) CheckStatus(ctx context.Context, sessionID, ownerID uuid.UUID) (model.Session, error) {
	key := sessionID.String() + "/" + ownerID.String()
	v, err, _ := m.statusGroup.Do(key, func() (any, error) {
		s, err := m.sessions.Get(ctx, sessionID, ownerID)
		if err != nil {
			return model.Session{}, err
		}
		return m.effective(s), nil
	})
	if err != nil {
		return model.Session{}, err
	}
	return v.(model.Session), nil
}

// effective overlays the lazy establishment deadline on a stored snapshot.
func (m *Manager) effective(s model.Session) model.Session {
	if (s.Status == model.StatusPending || s.Status == model.StatusConnecting) &&
		time.Since(s.CreatedAt) > m.establishTimeout {
		s.Status = model.StatusError
		s.StatusReason = "establishment timed out"
	}
	return s
}

// ApplyRemoteEvent applies a scan event pushed by the relay. Connected events
// capture the account identity and rotate the credential blob with the real
// session material (replace-only, never a partial update).
func (m *Manager) ApplyRemoteEvent(ctx context.Context, sessionID uuid.UUID, ev RemoteEvent) error {
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	// A handshake past its deadline is failed even if the relay disagrees.
	if ev.Type == EventConnected && m.effective(s).Status == model.StatusError && !s.Status.Terminal() {
		upd := snapshotOf(s)
		upd.Status = model.StatusError
		upd.StatusReason = "establishment timed out"
		if err := m.sessions.Update(ctx, s.ID, s.OwnerID, upd); err != nil {
			return fmt.Errorf("record establishment timeout: %w", err)
		}
		return model.ErrSessionEstablishmentFailed
	}

	var target model.SessionStatus
	switch ev.Type {
	case EventConnecting:
		target = model.StatusConnecting
	case EventConnected:
		target = model.StatusConnected
	case EventFailed:
		target = model.StatusError
	default:
		return fmt.Errorf("%w: unknown remote event %q", model.ErrInvalidTransition, ev.Type)
	}

	if !canTransition(s.Status, target) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, s.Status, target)
	}

	upd := snapshotOf(s)
	upd.Status = target
	switch ev.Type {
	case EventConnecting:
		// Informational bookkeeping; the poller does not depend on it.
	case EventConnected:
		now := time.Now().UTC()
		upd.LastConnectedAt = &now
		if ev.DisplayName != "" {
			name := ev.DisplayName
			upd.DisplayName = &name
		}
		if ev.PhoneNumber != "" {
			phone := ev.PhoneNumber
			upd.PhoneNumber = &phone
		}
		if len(ev.Credentials) > 0 {
			blob, keyMaterial, err := vault.Encrypt(ev.Credentials)
			if err != nil {
				return fmt.Errorf("encrypt session credentials: %w", err)
			}
			upd.SessionBlob = blob
			upd.KeyMaterial = keyMaterial
		}
	case EventFailed:
		upd.StatusReason = ev.Reason
		if upd.StatusReason == "" {
			upd.StatusReason = "remote handshake failed"
		}
	}

	if err := m.sessions.Update(ctx, s.ID, s.OwnerID, upd); err != nil {
		return fmt.Errorf("apply remote event: %w", err)
	}
	return nil
}

// Disconnect moves a session to disconnected. Calling it on a session that is
// already terminal is a no-op success; the row is retained for audit.
func (m *Manager) Disconnect(ctx context.Context, sessionID, ownerID uuid.UUID) error {
	s, err := m.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return nil
	}

	upd := snapshotOf(s)
	upd.Status = model.StatusDisconnected
	upd.StatusReason = "user disconnect"
	if err := m.sessions.Update(ctx, s.ID, ownerID, upd); err != nil {
		return fmt.Errorf("disconnect session: %w", err)
	}
	return nil
}

// MarkExpired records a remote-side revocation detected by the gateway.
func (m *Manager) MarkExpired(ctx context.Context, sessionID, ownerID uuid.UUID) error {
	s, err := m.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return nil
	}
	upd := snapshotOf(s)
	upd.Status = model.StatusDisconnected
	upd.StatusReason = "revoked by remote"
	if err := m.sessions.Update(ctx, s.ID, ownerID, upd); err != nil {
		return fmt.Errorf("mark session expired: %w", err)
	}
	return nil
}

// snapshotOf copies a session into an update so writes stay whole-row.
func snapshotOf(s model.Session) repo.SessionUpdate {
	return repo.SessionUpdate{
		Status:          s.Status,
		StatusReason:    s.StatusReason,
		SessionBlob:     s.SessionBlob,
		KeyMaterial:     s.KeyMaterial,
		DisplayName:     s.DisplayName,
		PhoneNumber:     s.PhoneNumber,
		LastConnectedAt: s.LastConnectedAt,
	}
}
