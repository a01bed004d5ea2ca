// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxEmailLength caps stored emails; matches the users.email column.
const MaxEmailLength = 255

// Password strength requirements.
const MinPasswordLength = 8

// emailRegex matches a pragmatic subset of RFC 5322 addr-spec: one @,
// a non-empty local part, and a domain with at least one dot.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// passwordSymbols is the accepted special-character class.
const passwordSymbols = `!@#$%^&*()-_=+[]{};:,.<>?/`

// User represents a registered account and its credential state.
type User struct {
	ID                ulid.ULID
	Email             string
	PasswordHash      string
	EmailVerified     bool
	IsLocked          bool
	LockedUntil       *time.Time
	FailedLoginCount  int
	FailedWindowStart *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastLoginAt       *time.Time
}

// NewUser creates a User with a normalized email and the given password
// hash. The account starts unverified and unlocked with zeroed counters.
func NewUser(email, passwordHash string, now time.Time) (*User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInternal).Errorf("password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail lowercases and trims an email address, validating its
// shape. Returns AUTH_INVALID_EMAIL on malformed input.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if len(normalized) > MaxEmailLength {
		return "", oops.Code(CodeInvalidEmail).
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(normalized) {
		return "", oops.Code(CodeInvalidEmail).Errorf("email address is not well-formed")
	}
	return normalized, nil
}

// ValidatePasswordStrength checks the password strength predicate:
// at least MinPasswordLength characters with at least one uppercase
// letter, one lowercase letter, one digit, and one symbol.
func ValidatePasswordStrength(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeWeakPassword).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return oops.Code(CodeWeakPassword).
			Errorf("password must contain an uppercase letter, a lowercase letter, a digit, and a symbol")
	}
	return nil
}

// RecordLoginFailure applies the lockout failure transition for an
// attempt observed at now.
func (u *User) RecordLoginFailure(now time.Time, policy LockoutPolicy) {
	count, windowStart := NextFailure(u.FailedLoginCount, u.FailedWindowStart, now, policy)
	u.FailedLoginCount = count
	u.FailedWindowStart = windowStart
	if lockedUntil := ComputeLockout(count, now, policy); lockedUntil != nil {
		u.IsLocked = true
		u.LockedUntil = lockedUntil
	}
	u.UpdatedAt = now
}

// RecordLoginSuccess resets the failure counters and stamps the login.
// Lock fields are left untouched: a locked account cannot reach the
// success path, and lock state is cleared only by its own expiry.
func (u *User) RecordLoginSuccess(now time.Time) {
	u.FailedLoginCount = 0
	u.FailedWindowStart = nil
	u.LastLoginAt = &now
	u.UpdatedAt = now
}

// ApplyLazyUnlock clears an elapsed lock at read time. Returns true if
// the user transitioned from locked to unlocked and needs persisting.
func (u *User) ApplyLazyUnlock(now time.Time) bool {
	if !u.IsLocked {
		return false
	}
	if !LockElapsed(u.LockedUntil, now) {
		return false
	}
	u.IsLocked = false
	u.LockedUntil = nil
	u.FailedLoginCount = 0
	u.FailedWindowStart = nil
	u.UpdatedAt = now
	return true
}

// SetPassword replaces the password hash and implicitly unlocks the
// account, clearing all failure state.
func (u *User) SetPassword(passwordHash string, now time.Time) {
	u.PasswordHash = passwordHash
	u.IsLocked = false
	u.LockedUntil = nil
	u.FailedLoginCount = 0
	u.FailedWindowStart = nil
	u.UpdatedAt = now
}

// UserRepository manages user persistence. Create must be atomic with
// the email uniqueness check: a duplicate surfaces as an error wrapping
// ErrConflict, never as a lost update.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update updates an existing user.
	Update(ctx context.Context, user *User) error
}
