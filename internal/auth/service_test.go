// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/memory"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// fakeClock is a manually advanced Clock for deterministic expiry and
// lockout arithmetic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// captureNotifier records notifications instead of delivering them, so
// tests can consume the plaintext tokens.
type captureNotifier struct {
	sent []auth.Notification
}

func (n *captureNotifier) Send(_ context.Context, notification auth.Notification) {
	n.sent = append(n.sent, notification)
}

func (n *captureNotifier) last(t *testing.T) auth.Notification {
	t.Helper()
	require.NotEmpty(t, n.sent, "expected a notification to have been sent")
	return n.sent[len(n.sent)-1]
}

// plainHasher is a transparent PasswordHasher; lockout tests hash many
// passwords and don't need argon2's memory-hard work.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Verify(password, hash string) (bool, error) {
	return hash == "plain:"+password, nil
}

type serviceHarness struct {
	svc      *auth.Service
	clock    *fakeClock
	notifier *captureNotifier
	audit    *bytes.Buffer // JSON security log records, one per line
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &captureNotifier{}
	audit := &bytes.Buffer{}

	svc, err := auth.NewService(auth.Deps{
		Users:      store.Users(),
		Sessions:   store.Sessions(),
		Tokens:     store.Tokens(),
		Transactor: store,
		Hasher:     plainHasher{},
		Clock:      clock,
		Notifier:   notifier,
		Security:   auth.NewSecurityLog(slog.New(slog.NewJSONHandler(audit, nil))),
	})
	require.NoError(t, err)

	return &serviceHarness{svc: svc, clock: clock, notifier: notifier, audit: audit}
}

// registerVerified registers and verifies an account, returning its ID.
func (h *serviceHarness) registerVerified(t *testing.T, email, password string) ulid.ULID {
	t.Helper()
	ctx := context.Background()
	userID, err := h.svc.Register(ctx, email, password, auth.ClientMeta{})
	require.NoError(t, err)
	require.NoError(t, h.svc.VerifyEmail(ctx, h.notifier.last(t).Token))
	return userID
}

const strongPassword = "Str0ng!pass"

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := auth.NewService(auth.Deps{})
	assert.Error(t, err)
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates unverified account and sends verification token", func(t *testing.T) {
		h := newServiceHarness(t)

		userID, err := h.svc.Register(ctx, "Alice@Example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)
		assert.NotEqual(t, ulid.ULID{}, userID)

		notification := h.notifier.last(t)
		assert.Equal(t, auth.NotifyVerification, notification.Kind)
		assert.Equal(t, "alice@example.com", notification.Recipient)
		assert.NotEmpty(t, notification.Token)

		// Registration never authenticates: login before verification fails.
		_, _, err = h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeEmailNotVerified)
	})

	t.Run("rejects duplicate email case-insensitively", func(t *testing.T) {
		h := newServiceHarness(t)

		_, err := h.svc.Register(ctx, "bob@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		_, err = h.svc.Register(ctx, "BOB@example.com", strongPassword, auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeEmailTaken)
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		h := newServiceHarness(t)
		_, err := h.svc.Register(ctx, "not-an-email", strongPassword, auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidEmail)
	})

	t.Run("rejects weak password", func(t *testing.T) {
		h := newServiceHarness(t)
		_, err := h.svc.Register(ctx, "carol@example.com", "weakpass", auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeWeakPassword)
	})
}

func TestService_VerifyEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes token and enables login", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)

		_, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		assert.NoError(t, err)
	})

	t.Run("unknown token", func(t *testing.T) {
		h := newServiceHarness(t)
		err := h.svc.VerifyEmail(ctx, "deadbeef")
		errutil.AssertErrorCode(t, err, auth.CodeVerifyTokenNotFound)

		// The audit record carries no subject: the token never resolved
		// to a user, and a zero ULID would read like a real account.
		audit := h.audit.String()
		assert.Contains(t, audit, `"subject":""`)
		assert.NotContains(t, audit, ulid.ULID{}.String())
	})

	t.Run("token cannot be reused", func(t *testing.T) {
		h := newServiceHarness(t)
		_, err := h.svc.Register(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		token := h.notifier.last(t).Token
		require.NoError(t, h.svc.VerifyEmail(ctx, token))

		err = h.svc.VerifyEmail(ctx, token)
		errutil.AssertErrorCode(t, err, auth.CodeVerifyTokenUsed)
	})

	t.Run("expired exactly at TTL", func(t *testing.T) {
		h := newServiceHarness(t)
		_, err := h.svc.Register(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		h.clock.Advance(auth.VerificationTokenTTL)
		err = h.svc.VerifyEmail(ctx, h.notifier.last(t).Token)
		errutil.AssertErrorCode(t, err, auth.CodeVerifyTokenExpired)
	})

	t.Run("multiple outstanding tokens stay valid", func(t *testing.T) {
		h := newServiceHarness(t)
		_, err := h.svc.Register(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)
		first := h.notifier.last(t).Token

		require.NoError(t, h.svc.ResendVerification(ctx, "alice@example.com", auth.ClientMeta{}))
		second := h.notifier.last(t).Token
		require.NotEqual(t, first, second)

		// Issuing the second token does not invalidate the first.
		assert.NoError(t, h.svc.VerifyEmail(ctx, first))
		assert.NoError(t, h.svc.VerifyEmail(ctx, second))
	})
}

func TestService_ResendVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email is a silent no-op", func(t *testing.T) {
		h := newServiceHarness(t)
		require.NoError(t, h.svc.ResendVerification(ctx, "ghost@example.com", auth.ClientMeta{}))
		assert.Empty(t, h.notifier.sent)
	})

	t.Run("verified account is a silent no-op", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		sentBefore := len(h.notifier.sent)

		require.NoError(t, h.svc.ResendVerification(ctx, "alice@example.com", auth.ClientMeta{}))
		assert.Len(t, h.notifier.sent, sentBefore)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success issues a usable session", func(t *testing.T) {
		h := newServiceHarness(t)
		userID := h.registerVerified(t, "alice@example.com", strongPassword)

		token, session, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{UserAgent: "cli", IPAddress: "10.0.0.1"})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, userID, session.UserID)
		assert.Equal(t, "cli", session.UserAgent)

		gotID, err := h.svc.ValidateSession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID, gotID)
	})

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)

		_, _, errUnknown := h.svc.Login(ctx, "ghost@example.com", strongPassword, auth.ClientMeta{})
		errutil.AssertErrorCode(t, errUnknown, auth.CodeInvalidCredentials)

		_, _, errWrong := h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		errutil.AssertErrorCode(t, errWrong, auth.CodeInvalidCredentials)
	})

	t.Run("locks on the fifth failure inside the window", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)

		for i := 0; i < auth.DefaultMaxLoginAttempts-1; i++ {
			_, _, err := h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
			errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		}

		// The locking attempt itself reports the lockout, not a generic
		// credential failure.
		_, _, err := h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeAccountLocked)

		// Correct password is refused while locked.
		_, _, err = h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeAccountLocked)
	})

	t.Run("lock expires lazily at the boundary", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)

		for i := 0; i < auth.DefaultMaxLoginAttempts; i++ {
			_, _, _ = h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		}

		h.clock.Advance(auth.DefaultLockDuration)
		_, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		assert.NoError(t, err)
	})

	t.Run("unlock resets the failure counter", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)

		for i := 0; i < auth.DefaultMaxLoginAttempts; i++ {
			_, _, _ = h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		}
		h.clock.Advance(auth.DefaultLockDuration)

		// A single post-unlock failure must not re-lock.
		_, _, err := h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	})

	t.Run("successful login resets the failure counter", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)

		for i := 0; i < auth.DefaultMaxLoginAttempts-1; i++ {
			_, _, _ = h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		}
		_, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		// Counter restarted: the next failure is the first of a new window.
		_, _, err = h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	})

	t.Run("failure window lapse restarts the count", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)

		for i := 0; i < auth.DefaultMaxLoginAttempts-1; i++ {
			_, _, _ = h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		}

		h.clock.Advance(auth.DefaultFailureWindow + time.Second)
		_, _, err := h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("deactivates the session", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		token, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		require.NoError(t, h.svc.Logout(ctx, token, auth.ClientMeta{}))

		_, err = h.svc.ValidateSession(ctx, token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInactive)
	})

	t.Run("logout of an inactive session reports not found", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		token, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		require.NoError(t, h.svc.Logout(ctx, token, auth.ClientMeta{}))
		err = h.svc.Logout(ctx, token, auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)
	})

	t.Run("unknown token reports not found", func(t *testing.T) {
		h := newServiceHarness(t)
		err := h.svc.Logout(ctx, "nosuchtoken", auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)
	})

	t.Run("records a failure event for an unknown token", func(t *testing.T) {
		h := newServiceHarness(t)
		err := h.svc.Logout(ctx, "nosuchtoken", auth.ClientMeta{IPAddress: "203.0.113.7"})
		errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)

		audit := h.audit.String()
		assert.Contains(t, audit, `"event_type":"logout"`)
		assert.Contains(t, audit, `"outcome":"failure"`)
		assert.Contains(t, audit, `"ip_address":"203.0.113.7"`)
	})
}

func TestService_ValidateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown token", func(t *testing.T) {
		h := newServiceHarness(t)
		_, err := h.svc.ValidateSession(ctx, "nosuchtoken")
		errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)
	})

	t.Run("expired exactly at TTL", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		token, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		h.clock.Advance(auth.SessionTTL)
		_, err = h.svc.ValidateSession(ctx, token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionExpired)
	})

	t.Run("usable just before TTL", func(t *testing.T) {
		h := newServiceHarness(t)
		userID := h.registerVerified(t, "alice@example.com", strongPassword)
		token, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		h.clock.Advance(auth.SessionTTL - time.Second)
		gotID, err := h.svc.ValidateSession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID, gotID)
	})
}

func TestService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	const newPassword = "N3w!strongpass"

	requestToken := func(t *testing.T, h *serviceHarness, email string) string {
		t.Helper()
		require.NoError(t, h.svc.RequestPasswordReset(ctx, email, auth.ClientMeta{}))
		notification := h.notifier.last(t)
		require.Equal(t, auth.NotifyReset, notification.Kind)
		return notification.Token
	}

	t.Run("request for unknown email succeeds without a notification", func(t *testing.T) {
		h := newServiceHarness(t)
		require.NoError(t, h.svc.RequestPasswordReset(ctx, "ghost@example.com", auth.ClientMeta{}))
		assert.Empty(t, h.notifier.sent)
	})

	t.Run("request for unverified account succeeds without a reset token", func(t *testing.T) {
		h := newServiceHarness(t)
		_, err := h.svc.Register(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)
		sentBefore := len(h.notifier.sent)

		require.NoError(t, h.svc.RequestPasswordReset(ctx, "alice@example.com", auth.ClientMeta{}))
		assert.Len(t, h.notifier.sent, sentBefore)
	})

	t.Run("reset changes the password and revokes all sessions", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		session1, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)
		session2, _, err := h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		require.NoError(t, err)

		token := requestToken(t, h, "alice@example.com")
		require.NoError(t, h.svc.ResetPassword(ctx, token, newPassword))

		// Old credential is dead, new one works.
		_, _, err = h.svc.Login(ctx, "alice@example.com", strongPassword, auth.ClientMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		_, _, err = h.svc.Login(ctx, "alice@example.com", newPassword, auth.ClientMeta{})
		assert.NoError(t, err)

		// Every pre-reset session is revoked.
		_, err = h.svc.ValidateSession(ctx, session1)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInactive)
		_, err = h.svc.ValidateSession(ctx, session2)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInactive)
	})

	t.Run("reset unlocks a locked account", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		for i := 0; i < auth.DefaultMaxLoginAttempts; i++ {
			_, _, _ = h.svc.Login(ctx, "alice@example.com", "Wr0ng!pass", auth.ClientMeta{})
		}

		token := requestToken(t, h, "alice@example.com")
		require.NoError(t, h.svc.ResetPassword(ctx, token, newPassword))

		_, _, err := h.svc.Login(ctx, "alice@example.com", newPassword, auth.ClientMeta{})
		assert.NoError(t, err)
	})

	t.Run("token cannot be reused", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		token := requestToken(t, h, "alice@example.com")

		require.NoError(t, h.svc.ResetPassword(ctx, token, newPassword))
		err := h.svc.ResetPassword(ctx, token, "An0ther!pass")
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenUsed)
	})

	t.Run("expired exactly at TTL", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		token := requestToken(t, h, "alice@example.com")

		h.clock.Advance(auth.ResetTokenTTL)
		err := h.svc.ResetPassword(ctx, token, newPassword)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenExpired)
	})

	t.Run("unknown token", func(t *testing.T) {
		h := newServiceHarness(t)
		err := h.svc.ResetPassword(ctx, "nosuchtoken", newPassword)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenNotFound)
	})

	t.Run("weak new password leaves the token consumable", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		token := requestToken(t, h, "alice@example.com")

		err := h.svc.ResetPassword(ctx, token, "weakpass")
		errutil.AssertErrorCode(t, err, auth.CodeWeakPassword)

		// The rejected attempt must not burn the token.
		assert.NoError(t, h.svc.ResetPassword(ctx, token, newPassword))
	})

	t.Run("multiple outstanding tokens stay valid", func(t *testing.T) {
		h := newServiceHarness(t)
		h.registerVerified(t, "alice@example.com", strongPassword)
		first := requestToken(t, h, "alice@example.com")
		second := requestToken(t, h, "alice@example.com")
		require.NotEqual(t, first, second)

		assert.NoError(t, h.svc.ResetPassword(ctx, first, newPassword))
		assert.NoError(t, h.svc.ResetPassword(ctx, second, "An0ther!pass"))
	})
}
