package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/server/internal/model"
)

// MemSessionRepo is an in-memory SessionRepo used in dev mode and tests,
// where a Postgres instance is not worth the ceremony. The semantics match
// the Postgres implementation: owner scoping, ErrNotFound, whole-row updates.
type MemSessionRepo struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]model.Session
}

// NewMemSessionRepo creates an empty in-memory SessionRepo.
func NewMemSessionRepo() *MemSessionRepo {
	return &MemSessionRepo{sessions: make(map[uuid.UUID]model.Session)}
}

func (r *MemSessionRepo) Create(_ context.Context, ownerID uuid.UUID, status model.SessionStatus, blob, keyMaterial []byte) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	s := model.Session{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Status:      status,
		SessionBlob: append([]byte(nil), blob...),
		KeyMaterial: append([]byte(nil), keyMaterial...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.sessions[s.ID] = s
	return s.ID, nil
}

func (r *MemSessionRepo) Get(_ context.Context, id, ownerID uuid.UUID) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return model.Session{}, model.ErrNotFound
	}
	return s, nil
}

func (r *MemSessionRepo) GetByID(_ context.Context, id uuid.UUID) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, model.ErrNotFound
	}
	return s, nil
}

func (r *MemSessionRepo) GetActiveForOwner(_ context.Context, ownerID uuid.UUID) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []model.Session
	for _, s := range r.sessions {
		if s.OwnerID == ownerID && !s.Status.Terminal() {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return model.Session{}, model.ErrNotFound
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	return active[0], nil
}

func (r *MemSessionRepo) Update(_ context.Context, id, ownerID uuid.UUID, upd SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return model.ErrNotFound
	}
	s.Status = upd.Status
	s.StatusReason = upd.StatusReason
	s.SessionBlob = append([]byte(nil), upd.SessionBlob...)
	s.KeyMaterial = append([]byte(nil), upd.KeyMaterial...)
	s.DisplayName = upd.DisplayName
	s.PhoneNumber = upd.PhoneNumber
	s.LastConnectedAt = upd.LastConnectedAt
	s.UpdatedAt = time.Now().UTC()
	r.sessions[id] = s
	return nil
}
