// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenBytes = 32             // 32 bytes = 64 hex chars, 256 bits of entropy
	SessionTTL        = 24 * time.Hour // fixed TTL from creation
)

// Session represents a live authenticated context. The stored value is
// the SHA-256 hash of the bearer token; the plaintext only travels to
// the client.
type Session struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	UserAgent string
	IPAddress string
	IsActive  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSession creates a validated Session owned by userID, active and
// expiring exactly one TTL after now. UserAgent and IPAddress are
// carried for audit only and may be empty.
func NewSession(userID ulid.ULID, tokenHash, userAgent, ipAddress string, now time.Time, ttl time.Duration) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code(CodeInternal).Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code(CodeInternal).Errorf("token hash cannot be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code(CodeInternal).Errorf("session TTL must be positive")
	}
	return &Session{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		IsActive:  true,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

// IsExpiredAt reports whether the session is expired at t. The boundary
// instant itself counts as expired: a session is usable only while
// t < ExpiresAt.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// IsUsableAt reports whether the session authorizes requests at t.
func (s *Session) IsUsableAt(t time.Time) bool {
	return s.IsActive && !s.IsExpiredAt(t)
}

// GenerateToken creates a secure random opaque token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext goes to
// the client or notifier; only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code(CodeInternal).
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashToken(token)

	return token, hash, nil
}

// HashToken computes the SHA-256 hash of an opaque token. Stored tokens
// are always hashed so a database leak does not leak bearer credentials.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyTokenHash checks a plaintext token against a stored hash using
// a constant-time comparison.
func VerifyTokenHash(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionRepository manages session persistence. Deactivation is
// monotonic: no method ever flips IsActive back to true.
type SessionRepository interface {
	// Create stores a new session. A token hash collision surfaces as
	// an error wrapping ErrDuplicateToken.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash, regardless
	// of active state.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Deactivate marks the active session with the given token hash
	// inactive. Returns an error wrapping ErrNotFound if no active
	// session matches, which callers treat as already-logged-out.
	Deactivate(ctx context.Context, tokenHash string) error

	// DeactivateByUser marks every active session of a user inactive.
	// Deactivating zero sessions is a valid outcome, not an error.
	DeactivateByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes sessions past their expiry and returns the
	// count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
