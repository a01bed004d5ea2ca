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

const tokenColumns = `id, user_id, token_hash, created_at, expires_at, used_at`

// TokenRepository implements auth.TokenRepository using PostgreSQL.
// Verification and reset tokens live in separate tables with the same
// shape; the kind selects the table.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new PostgreSQL token repository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// tokenTable maps a token kind to its table name. The result is always
// one of two fixed identifiers, never caller input.
func tokenTable(kind auth.TokenKind) string {
	if kind == auth.TokenReset {
		return "password_reset_tokens"
	}
	return "verification_tokens"
}

// Create persists a new action token. A duplicate token hash maps to
// auth.ErrDuplicateToken so the caller can regenerate.
func (r *TokenRepository) Create(ctx context.Context, token *auth.ActionToken) error {
	_, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		INSERT INTO `+tokenTable(token.Kind)+` (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, token.ID.String(), token.UserID.String(), token.TokenHash,
		token.CreatedAt, token.ExpiresAt, token.UsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrDuplicateToken
		}
		return oops.Code("TOKEN_CREATE_FAILED").
			With("id", token.ID.String()).
			With("kind", string(token.Kind)).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token of the given kind by its hash.
func (r *TokenRepository) GetByTokenHash(ctx context.Context, kind auth.TokenKind, tokenHash string) (*auth.ActionToken, error) {
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT `+tokenColumns+` FROM `+tokenTable(kind)+` WHERE token_hash = $1
	`, tokenHash)
	token, err := scanTokenRow(row, kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_ROW_NOT_FOUND").With("kind", string(kind)).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").With("kind", string(kind)).Wrap(err)
	}
	return token, nil
}

// MarkUsed stamps the token's used_at. Marking an already-used or
// unknown token maps to auth.ErrNotFound.
func (r *TokenRepository) MarkUsed(ctx context.Context, kind auth.TokenKind, id ulid.ULID, usedAt time.Time) error {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		UPDATE `+tokenTable(kind)+` SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`, id.String(), usedAt)
	if err != nil {
		return oops.Code("TOKEN_MARK_USED_FAILED").With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_ROW_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes tokens of the given kind whose expiry is at or
// before now and returns the number removed.
func (r *TokenRepository) DeleteExpired(ctx context.Context, kind auth.TokenKind, now time.Time) (int64, error) {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		DELETE FROM `+tokenTable(kind)+` WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("TOKEN_SWEEP_FAILED").With("kind", string(kind)).Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanTokenRow scans a single action token from a row.
func scanTokenRow(row pgx.Row, kind auth.TokenKind) (*auth.ActionToken, error) {
	var token auth.ActionToken
	var idStr, userIDStr string

	err := row.Scan(
		&idStr, &userIDStr, &token.TokenHash,
		&token.CreatedAt, &token.ExpiresAt, &token.UsedAt,
	)
	if err != nil {
		return nil, err
	}

	token.Kind = kind
	token.Used = token.UsedAt != nil
	token.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_PARSE_FAILED").With("field", "id").With("value", idStr).Wrap(err)
	}
	token.UserID, err = ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_PARSE_FAILED").With("field", "user_id").With("value", userIDStr).Wrap(err)
	}
	return &token, nil
}

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)
