// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token TTLs by kind.
const (
	VerificationTokenTTL = 24 * time.Hour
	ResetTokenTTL        = time.Hour
)

// TokenKind discriminates the two single-use capability token families.
type TokenKind string

// Token kinds.
const (
	TokenVerification TokenKind = "verification"
	TokenReset        TokenKind = "reset"
)

// TTL returns the validity window for the kind.
func (k TokenKind) TTL() time.Duration {
	if k == TokenReset {
		return ResetTokenTTL
	}
	return VerificationTokenTTL
}

// ActionToken is a single-use, time-boxed capability token: either an
// email verification token or a password reset token. Both kinds share
// one shape and differ only in TTL and error namespace. Issuing a new
// token does not invalidate older outstanding ones; each stays
// independently valid until used or expired.
type ActionToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Kind      TokenKind
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// NewActionToken creates a validated token of the given kind owned by
// userID, expiring exactly ttl after now.
func NewActionToken(kind TokenKind, userID ulid.ULID, tokenHash string, now time.Time, ttl time.Duration) (*ActionToken, error) {
	if kind != TokenVerification && kind != TokenReset {
		return nil, oops.Code(CodeInternal).With("kind", string(kind)).Errorf("unknown token kind")
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code(CodeInternal).Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code(CodeInternal).Errorf("token hash cannot be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code(CodeInternal).Errorf("token TTL must be positive")
	}
	return &ActionToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Kind:      kind,
		TokenHash: tokenHash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// IsExpiredAt reports whether the token is expired at t. The boundary
// instant counts as expired: consumable only while t < ExpiresAt.
func (tok *ActionToken) IsExpiredAt(t time.Time) bool {
	return !t.Before(tok.ExpiresAt)
}

// MarkUsed consumes the token. The transition is one-way.
func (tok *ActionToken) MarkUsed(now time.Time) {
	tok.Used = true
	tok.UsedAt = &now
}

// TokenRepository manages verification and reset token persistence.
// Expired or used rows are kept for audit and reaped by the sweeper,
// never deleted on the consumption path.
type TokenRepository interface {
	// Create stores a new token. A token hash collision surfaces as an
	// error wrapping ErrDuplicateToken.
	Create(ctx context.Context, token *ActionToken) error

	// GetByTokenHash retrieves a token of the given kind by hash.
	GetByTokenHash(ctx context.Context, kind TokenKind, tokenHash string) (*ActionToken, error)

	// MarkUsed persists the used flag and timestamp for a token.
	MarkUsed(ctx context.Context, kind TokenKind, id ulid.ULID, usedAt time.Time) error

	// DeleteExpired removes tokens of the given kind past their expiry
	// and returns the count of deleted records.
	DeleteExpired(ctx context.Context, kind TokenKind, now time.Time) (int64, error)
}
