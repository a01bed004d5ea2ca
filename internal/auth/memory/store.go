// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package memory provides in-memory implementations of the auth
// repositories. It backs unit tests and the standalone demo mode;
// production deployments use the postgres package.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/gatehouse/gatehouse/internal/auth"
)

type txKey struct{}

// Store holds all auth state in maps guarded by a single mutex.
// InTransaction snapshots the maps and restores them if the
// transaction function fails, so partial writes never survive.
type Store struct {
	mu sync.Mutex

	users        map[ulid.ULID]auth.User
	usersByEmail map[string]ulid.ULID
	sessions     map[string]auth.Session // keyed by token hash
	tokens       map[ulid.ULID]auth.ActionToken
	tokensByHash map[string]ulid.ULID // keyed by kind+hash
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:        make(map[ulid.ULID]auth.User),
		usersByEmail: make(map[string]ulid.ULID),
		sessions:     make(map[string]auth.Session),
		tokens:       make(map[ulid.ULID]auth.ActionToken),
		tokensByHash: make(map[string]ulid.ULID),
	}
}

// Users returns the user repository view of the store.
func (s *Store) Users() auth.UserRepository { return (*userRepo)(s) }

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() auth.SessionRepository { return (*sessionRepo)(s) }

// Tokens returns the token repository view of the store.
func (s *Store) Tokens() auth.TokenRepository { return (*tokenRepo)(s) }

// InTransaction runs fn with the store locked. If fn returns an error,
// every mutation made inside it is rolled back. Nested calls join the
// enclosing transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.clone()
	err := fn(context.WithValue(ctx, txKey{}, struct{}{}))
	if err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// lock acquires the store mutex unless ctx is already inside a
// transaction, which holds it for the duration.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	users        map[ulid.ULID]auth.User
	usersByEmail map[string]ulid.ULID
	sessions     map[string]auth.Session
	tokens       map[ulid.ULID]auth.ActionToken
	tokensByHash map[string]ulid.ULID
}

func (s *Store) clone() snapshot {
	snap := snapshot{
		users:        make(map[ulid.ULID]auth.User, len(s.users)),
		usersByEmail: make(map[string]ulid.ULID, len(s.usersByEmail)),
		sessions:     make(map[string]auth.Session, len(s.sessions)),
		tokens:       make(map[ulid.ULID]auth.ActionToken, len(s.tokens)),
		tokensByHash: make(map[string]ulid.ULID, len(s.tokensByHash)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.usersByEmail {
		snap.usersByEmail[k] = v
	}
	for k, v := range s.sessions {
		snap.sessions[k] = v
	}
	for k, v := range s.tokens {
		snap.tokens[k] = v
	}
	for k, v := range s.tokensByHash {
		snap.tokensByHash[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.usersByEmail = snap.usersByEmail
	s.sessions = snap.sessions
	s.tokens = snap.tokens
	s.tokensByHash = snap.tokensByHash
}

func tokenHashKey(kind auth.TokenKind, hash string) string {
	return string(kind) + ":" + hash
}
