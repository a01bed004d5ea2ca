// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

const userColumns = `id, email, password_hash, email_verified, is_locked, locked_until,
	failed_login_count, failed_window_start, created_at, updated_at, last_login_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create persists a new user. A duplicate email maps to
// AUTH_EMAIL_TAKEN wrapping auth.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, user.ID.String(), user.Email, user.PasswordHash, user.EmailVerified,
		user.IsLocked, user.LockedUntil, user.FailedLoginCount,
		user.FailedWindowStart, user.CreatedAt, user.UpdatedAt, user.LastLoginAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code(auth.CodeEmailTaken).
				With("email", user.Email).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("USER_CREATE_FAILED").With("id", user.ID.String()).Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id.String())
	user, err := scanUserRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by normalized email. Inside a
// transaction the row is locked with FOR UPDATE so concurrent login
// attempts against the same account serialize.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, query, email)
	user, err := scanUserRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").Wrap(err)
	}
	return user, nil
}

// Update modifies an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		UPDATE users SET email = $2, password_hash = $3, email_verified = $4,
			is_locked = $5, locked_until = $6, failed_login_count = $7,
			failed_window_start = $8, updated_at = $9, last_login_at = $10
		WHERE id = $1
	`, user.ID.String(), user.Email, user.PasswordHash, user.EmailVerified,
		user.IsLocked, user.LockedUntil, user.FailedLoginCount,
		user.FailedWindowStart, user.UpdatedAt, user.LastLoginAt)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", user.ID.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUserRow scans a single user from a row.
func scanUserRow(row pgx.Row) (*auth.User, error) {
	var user auth.User
	var idStr string

	err := row.Scan(
		&idStr, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.IsLocked, &user.LockedUntil, &user.FailedLoginCount,
		&user.FailedWindowStart, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_PARSE_FAILED").With("field", "id").With("value", idStr).Wrap(err)
	}
	return &user, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
