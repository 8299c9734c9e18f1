package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/server/internal/model"
)

// SessionUpdate is a full snapshot of a session's mutable fields. Updates are
// whole-row replaces keyed by id; the last writer wins. The only writers are
// the lifecycle manager reacting to relay events and explicit disconnects, so
// this is not a contended path.
type SessionUpdate struct {
	Status          model.SessionStatus
	StatusReason    string
	SessionBlob     []byte
	KeyMaterial     []byte
	DisplayName     *string
	PhoneNumber     *string
	LastConnectedAt *time.Time
}

// SessionRepo defines the interface for session store operations. Every read
// and write is scoped by owner; an id/owner mismatch is model.ErrNotFound,
// never a generic failure.
type SessionRepo interface {
	Create(ctx context.Context, ownerID uuid.UUID, status model.SessionStatus, blob, keyMaterial []byte) (uuid.UUID, error)
	Get(ctx context.Context, id, ownerID uuid.UUID) (model.Session, error)
	// GetByID is unscoped and reserved for trusted internal callers (the
	// relay webhook, which only knows the session id).
	GetByID(ctx context.Context, id uuid.UUID) (model.Session, error)
	GetActiveForOwner(ctx context.Context, ownerID uuid.UUID) (model.Session, error)
	Update(ctx context.Context, id, ownerID uuid.UUID, upd SessionUpdate) error
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a Postgres-backed SessionRepo.
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `
	id, owner_id, status, status_reason, session_blob, key_material,
	display_name, phone_number, created_at, updated_at, last_connected_at
`

// Create inserts a new session row and returns its id.
func (r *sessionRepo) Create(ctx context.Context, ownerID uuid.UUID, status model.SessionStatus, blob, keyMaterial []byte) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO wa_sessions (owner_id, status, session_blob, key_material)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, ownerID, string(status), blob, keyMaterial).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return id, nil
}

// Get retrieves a session by id, scoped to its owner.
func (r *sessionRepo) Get(ctx context.Context, id, ownerID uuid.UUID) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM wa_sessions
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	return scanSession(row)
}

// GetByID retrieves a session by id alone.
func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM wa_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

// GetActiveForOwner returns the owner's most recent non-terminal session, or
// model.ErrNotFound when every session has run its course.
func (r *sessionRepo) GetActiveForOwner(ctx context.Context, ownerID uuid.UUID) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM wa_sessions
		WHERE owner_id = $1 AND status NOT IN ('disconnected', 'error')
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID)
	return scanSession(row)
}

// Update replaces the mutable fields of a session as one snapshot.
func (r *sessionRepo) Update(ctx context.Context, id, ownerID uuid.UUID, upd SessionUpdate) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE wa_sessions
		SET status = $3, status_reason = $4, session_blob = $5, key_material = $6,
		    display_name = $7, phone_number = $8, last_connected_at = $9,
		    updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID, string(upd.Status), nullIfEmpty(upd.StatusReason),
		upd.SessionBlob, upd.KeyMaterial, upd.DisplayName, upd.PhoneNumber, upd.LastConnectedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	var idStr, ownerStr, status string
	var reason, displayName, phoneNumber sql.NullString
	var lastConnected sql.NullTime
	err := row.Scan(
		&idStr,
		&ownerStr,
		&status,
		&reason,
		&s.SessionBlob,
		&s.KeyMaterial,
		&displayName,
		&phoneNumber,
		&s.CreatedAt,
		&s.UpdatedAt,
		&lastConnected,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, model.ErrNotFound
		}
		return model.Session{}, fmt.Errorf("query session: %w", err)
	}
	s.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse session ID: %w", err)
	}
	s.OwnerID, err = uuid.Parse(ownerStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse owner ID: %w", err)
	}
	s.Status = model.SessionStatus(status)
	if reason.Valid {
		s.StatusReason = reason.String
	}
	if displayName.Valid {
		s.DisplayName = &displayName.String
	}
	if phoneNumber.Valid {
		s.PhoneNumber = &phoneNumber.String
	}
	if lastConnected.Valid {
		t := lastConnected.Time
		s.LastConnectedAt = &t
	}
	return s, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
