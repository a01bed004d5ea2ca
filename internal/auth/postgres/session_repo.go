// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

const sessionColumns = `id, user_id, token_hash, user_agent, ip_address, is_active, expires_at, created_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a new session. A duplicate token hash maps to
// auth.ErrDuplicateToken so the caller can regenerate.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID.String(), session.UserID.String(), session.TokenHash,
		session.UserAgent, session.IPAddress, session.IsActive,
		session.ExpiresAt, session.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrDuplicateToken
		}
		return oops.Code("SESSION_CREATE_FAILED").With("id", session.ID.String()).Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1
	`, tokenHash)
	session, err := scanSessionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_ROW_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}
	return session, nil
}

// Deactivate marks the active session with the given token hash
// inactive. Unknown or already-inactive sessions map to
// auth.ErrNotFound.
func (r *SessionRepository) Deactivate(ctx context.Context, tokenHash string) error {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE token_hash = $1 AND is_active
	`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DEACTIVATE_FAILED").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// DeactivateByUser marks every active session of a user inactive. A
// user with no active sessions is not an error.
func (r *SessionRepository) DeactivateByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = $1 AND is_active
	`, userID.String())
	if err != nil {
		return oops.Code("SESSION_DEACTIVATE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry is at or before now and
// returns the number removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		DELETE FROM sessions WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSessionRow scans a single session from a row.
func scanSessionRow(row pgx.Row) (*auth.Session, error) {
	var session auth.Session
	var idStr, userIDStr string

	err := row.Scan(
		&idStr, &userIDStr, &session.TokenHash, &session.UserAgent,
		&session.IPAddress, &session.IsActive, &session.ExpiresAt, &session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_PARSE_FAILED").With("field", "id").With("value", idStr).Wrap(err)
	}
	session.UserID, err = ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_PARSE_FAILED").With("field", "user_id").With("value", userIDStr).Wrap(err)
	}
	return &session, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
