// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package memory

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

type userRepo Store

func (r *userRepo) Create(ctx context.Context, user *auth.User) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	if _, taken := s.usersByEmail[user.Email]; taken {
		return oops.Code(auth.CodeEmailTaken).
			With("email", user.Email).
			Wrap(auth.ErrConflict)
	}
	s.users[user.ID] = *user
	s.usersByEmail[user.Email] = user.ID
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()

	user, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	user := s.users[id]
	return &user, nil
}

func (r *userRepo) Update(ctx context.Context, user *auth.User) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	prev, ok := s.users[user.ID]
	if !ok {
		return auth.ErrNotFound
	}
	if prev.Email != user.Email {
		delete(s.usersByEmail, prev.Email)
		s.usersByEmail[user.Email] = user.ID
	}
	s.users[user.ID] = *user
	return nil
}

type sessionRepo Store

func (r *sessionRepo) Create(ctx context.Context, session *auth.Session) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	if _, exists := s.sessions[session.TokenHash]; exists {
		return auth.ErrDuplicateToken
	}
	s.sessions[session.TokenHash] = *session
	return nil
}

func (r *sessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()

	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &session, nil
}

func (r *sessionRepo) Deactivate(ctx context.Context, tokenHash string) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	session, ok := s.sessions[tokenHash]
	if !ok || !session.IsActive {
		return auth.ErrNotFound
	}
	session.IsActive = false
	s.sessions[tokenHash] = session
	return nil
}

func (r *sessionRepo) DeactivateByUser(ctx context.Context, userID ulid.ULID) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	for hash, session := range s.sessions {
		if session.UserID == userID && session.IsActive {
			session.IsActive = false
			s.sessions[hash] = session
		}
	}
	return nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()

	var removed int64
	for hash, session := range s.sessions {
		if session.IsExpiredAt(now) {
			delete(s.sessions, hash)
			removed++
		}
	}
	return removed, nil
}

type tokenRepo Store

func (r *tokenRepo) Create(ctx context.Context, token *auth.ActionToken) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	key := tokenHashKey(token.Kind, token.TokenHash)
	if _, exists := s.tokensByHash[key]; exists {
		return auth.ErrDuplicateToken
	}
	s.tokens[token.ID] = *token
	s.tokensByHash[key] = token.ID
	return nil
}

func (r *tokenRepo) GetByTokenHash(ctx context.Context, kind auth.TokenKind, tokenHash string) (*auth.ActionToken, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()

	id, ok := s.tokensByHash[tokenHashKey(kind, tokenHash)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	token := s.tokens[id]
	return &token, nil
}

func (r *tokenRepo) MarkUsed(ctx context.Context, kind auth.TokenKind, id ulid.ULID, usedAt time.Time) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	token, ok := s.tokens[id]
	if !ok || token.Kind != kind {
		return auth.ErrNotFound
	}
	token.MarkUsed(usedAt)
	s.tokens[id] = token
	return nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context, kind auth.TokenKind, now time.Time) (int64, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()

	var removed int64
	for id, token := range s.tokens {
		if token.Kind == kind && token.IsExpiredAt(now) {
			delete(s.tokensByHash, tokenHashKey(token.Kind, token.TokenHash))
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}
