// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// decoyPasswordHash is verified when a user doesn't exist, so the
// response time for an unknown email matches the known-email path.
// This is NOT a real credential - it's a fake hash that will never
// match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const decoyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// tokenCollisionRetries bounds regeneration attempts when a generated
// token hash collides with a stored one.
const tokenCollisionRetries = 3

// Params holds the tunable constants of the engine.
type Params struct {
	SessionTTL      time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	Lockout         LockoutPolicy
}

// DefaultParams returns the standard engine constants.
func DefaultParams() Params {
	return Params{
		SessionTTL:      SessionTTL,
		VerificationTTL: VerificationTokenTTL,
		ResetTTL:        ResetTokenTTL,
		Lockout:         DefaultLockoutPolicy(),
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.SessionTTL <= 0 {
		p.SessionTTL = d.SessionTTL
	}
	if p.VerificationTTL <= 0 {
		p.VerificationTTL = d.VerificationTTL
	}
	if p.ResetTTL <= 0 {
		p.ResetTTL = d.ResetTTL
	}
	if p.Lockout.MaxAttempts <= 0 {
		p.Lockout.MaxAttempts = d.Lockout.MaxAttempts
	}
	if p.Lockout.FailureWindow <= 0 {
		p.Lockout.FailureWindow = d.Lockout.FailureWindow
	}
	if p.Lockout.LockDuration <= 0 {
		p.Lockout.LockDuration = d.Lockout.LockDuration
	}
	return p
}

func (p Params) tokenTTL(kind TokenKind) time.Duration {
	if kind == TokenReset {
		return p.ResetTTL
	}
	return p.VerificationTTL
}

// Deps bundles the collaborators of the engine. Users, Sessions,
// Tokens, Transactor, and Hasher are required; the rest default to
// sensible implementations.
type Deps struct {
	Users      UserRepository
	Sessions   SessionRepository
	Tokens     TokenRepository
	Transactor Transactor
	Hasher     PasswordHasher
	Clock      Clock        // defaults to SystemClock
	Notifier   Notifier     // defaults to LogNotifier
	Security   *SecurityLog // defaults to slog-backed log
	Logger     *slog.Logger // defaults to slog.Default
	Params     Params       // zero fields filled from DefaultParams
}

// Service is the auth engine: it orchestrates registration, email
// verification, login, logout, password reset, and session validation
// as transactions over the repositories.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	tokens   TokenRepository
	tx       Transactor
	hasher   PasswordHasher
	clock    Clock
	notifier Notifier
	security *SecurityLog
	logger   *slog.Logger
	params   Params
}

// NewService creates a Service, validating required dependencies.
func NewService(deps Deps) (*Service, error) {
	if deps.Users == nil {
		return nil, oops.Code(CodeInternal).Errorf("users repository is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Code(CodeInternal).Errorf("sessions repository is required")
	}
	if deps.Tokens == nil {
		return nil, oops.Code(CodeInternal).Errorf("tokens repository is required")
	}
	if deps.Transactor == nil {
		return nil, oops.Code(CodeInternal).Errorf("transactor is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code(CodeInternal).Errorf("password hasher is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(deps.Logger)
	}
	if deps.Security == nil {
		deps.Security = NewSecurityLog(deps.Logger)
	}
	return &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		tx:       deps.Transactor,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		notifier: deps.Notifier,
		security: deps.Security,
		logger:   deps.Logger,
		params:   deps.Params.withDefaults(),
	}, nil
}

// Register creates an unverified account and issues its first
// verification token. It never returns a session: registration does
// not authenticate.
func (s *Service) Register(ctx context.Context, email, password string, meta ClientMeta) (ulid.ULID, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		s.security.Event(ctx, EventRegistration, email, false, "malformed email", meta)
		registrations.WithLabelValues("invalid").Inc()
		return ulid.ULID{}, err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		s.security.Event(ctx, EventRegistration, normalized, false, "weak password", meta)
		registrations.WithLabelValues("invalid").Inc()
		return ulid.ULID{}, err
	}

	// Hash outside the transaction: the memory-hard work must not hold
	// a storage transaction open.
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		registrations.WithLabelValues("error").Inc()
		return ulid.ULID{}, oops.Code(CodeInternal).With("operation", "hash password").Wrap(err)
	}

	now := s.clock.Now()
	var user *User
	var plainToken string
	var token *ActionToken

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		user, txErr = NewUser(normalized, passwordHash, now)
		if txErr != nil {
			return txErr
		}
		if txErr = s.users.Create(ctx, user); txErr != nil {
			return txErr
		}
		plainToken, token, txErr = s.issueToken(ctx, TokenVerification, user.ID, now)
		return txErr
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.security.Event(ctx, EventRegistration, normalized, false, "email already registered", meta)
			registrations.WithLabelValues("conflict").Inc()
		} else {
			registrations.WithLabelValues("error").Inc()
		}
		return ulid.ULID{}, err
	}

	s.notifier.Send(ctx, Notification{
		Recipient: user.Email,
		Kind:      NotifyVerification,
		Token:     plainToken,
		ExpiresAt: token.ExpiresAt,
	})
	s.security.Event(ctx, EventRegistration, user.ID.String(), true, "", meta)
	registrations.WithLabelValues("success").Inc()

	return user.ID, nil
}

// VerifyEmail consumes a verification token and marks the owning user
// verified, atomically.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	now := s.clock.Now()
	hash := HashToken(token)

	var userID ulid.ULID
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		tok, txErr := s.tokens.GetByTokenHash(ctx, TokenVerification, hash)
		if txErr != nil {
			if errors.Is(txErr, ErrNotFound) {
				return oops.Code(CodeVerifyTokenNotFound).Errorf("verification token not found")
			}
			return txErr
		}
		if tok.IsExpiredAt(now) {
			// The row stays untouched for audit; the sweeper reaps it.
			return oops.Code(CodeVerifyTokenExpired).Errorf("verification token has expired")
		}
		if tok.Used {
			return oops.Code(CodeVerifyTokenUsed).Errorf("verification token already used")
		}

		if txErr = s.tokens.MarkUsed(ctx, TokenVerification, tok.ID, now); txErr != nil {
			return txErr
		}
		user, txErr := s.users.GetByID(ctx, tok.UserID)
		if txErr != nil {
			return txErr
		}
		user.EmailVerified = true
		user.UpdatedAt = now
		userID = user.ID
		return s.users.Update(ctx, user)
	})
	if err != nil {
		// The subject is empty when the token never resolved to a user;
		// a zero ULID in the audit trail reads like a real account.
		subject := ""
		if userID != (ulid.ULID{}) {
			subject = userID.String()
		}
		s.security.Event(ctx, EventEmailVerification, subject, false, err.Error(), ClientMeta{})
		return err
	}

	s.security.Event(ctx, EventEmailVerification, userID.String(), true, "", ClientMeta{})
	return nil
}

// ResendVerification issues a fresh verification token for an
// unverified account. The response never reveals whether the email is
// registered; unknown and already-verified emails are silent no-ops.
func (s *Service) ResendVerification(ctx context.Context, email string, meta ClientMeta) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code(CodeInternal).With("operation", "get user by email").Wrap(err)
	}
	if user.EmailVerified {
		return nil
	}

	now := s.clock.Now()
	var plainToken string
	var token *ActionToken
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		plainToken, token, txErr = s.issueToken(ctx, TokenVerification, user.ID, now)
		return txErr
	})
	if err != nil {
		return err
	}

	s.notifier.Send(ctx, Notification{
		Recipient: user.Email,
		Kind:      NotifyVerification,
		Token:     plainToken,
		ExpiresAt: token.ExpiresAt,
	})
	return nil
}

// Login authenticates a user and creates a session. Returns the
// plaintext session token and the created session.
//
// The check order is fixed: lookup, lazy unlock, lock check, verified
// check, password check. Unknown emails burn the same hashing work as
// known ones so response timing does not enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (string, *Session, error) {
	start := time.Now()
	normalized, err := NormalizeEmail(email)
	if err != nil {
		// A malformed email can't match an account; same treatment as
		// an unknown one.
		normalized = email
	}

	probe, lookupErr := s.users.GetByEmail(ctx, normalized)
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			observeLogin(start, outcomeError)
			return "", nil, oops.Code(CodeInternal).With("operation", "get user by email").Wrap(lookupErr)
		}
		// Burn equivalent hashing work against the decoy hash.
		_, _ = s.hasher.Verify(password, decoyPasswordHash) //nolint:errcheck // decoy, result irrelevant
		s.security.Event(ctx, EventLoginAttempt, normalized, false, "unknown email", meta)
		observeLogin(start, outcomeInvalid)
		return "", nil, oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
	}

	var plainToken string
	var session *Session
	var opErr error

	txErr := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.clock.Now()

		// Re-read inside the transaction so concurrent attempts
		// serialize on the row and failure counts accumulate correctly.
		user, err := s.users.GetByEmail(ctx, probe.Email)
		if err != nil {
			return err
		}

		if user.ApplyLazyUnlock(now) {
			s.security.Event(ctx, EventAccountUnlocked, user.ID.String(), true, "lock elapsed", meta)
			if err := s.users.Update(ctx, user); err != nil {
				return err
			}
		}
		if user.IsLocked {
			opErr = oops.Code(CodeAccountLocked).
				With("locked_until", user.LockedUntil).
				Errorf("account is temporarily locked")
			return nil
		}
		if !user.EmailVerified {
			opErr = oops.Code(CodeEmailNotVerified).Errorf("email address is not verified")
			return nil
		}

		valid, err := s.hasher.Verify(password, user.PasswordHash)
		if err != nil {
			// Malformed stored hash: integrity anomaly. Logged here,
			// reported to the caller as a credential failure.
			s.logger.ErrorContext(ctx, "stored password hash malformed",
				"user_id", user.ID.String(), "error", err)
			valid = false
		}
		if !valid {
			user.RecordLoginFailure(now, s.params.Lockout)
			if err := s.users.Update(ctx, user); err != nil {
				return err
			}
			if user.IsLocked {
				lockouts.Inc()
				s.security.Event(ctx, EventAccountLocked, user.ID.String(), false, "max login attempts exceeded", meta)
				opErr = oops.Code(CodeAccountLocked).
					With("locked_until", user.LockedUntil).
					Errorf("account locked after too many failed attempts")
				return nil
			}
			opErr = oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
			return nil
		}

		user.RecordLoginSuccess(now)
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}

		plainToken, session, err = s.createSession(ctx, user.ID, meta, now)
		return err
	})
	if txErr != nil {
		observeLogin(start, outcomeError)
		return "", nil, txErr
	}
	if opErr != nil {
		switch {
		case HasCode(opErr, CodeAccountLocked):
			s.security.Event(ctx, EventLoginAttempt, probe.ID.String(), false, "account locked", meta)
			observeLogin(start, outcomeLocked)
		case HasCode(opErr, CodeEmailNotVerified):
			s.security.Event(ctx, EventLoginAttempt, probe.ID.String(), false, "email not verified", meta)
			observeLogin(start, outcomeUnverified)
		default:
			s.security.Event(ctx, EventLoginAttempt, probe.ID.String(), false, "invalid password", meta)
			observeLogin(start, outcomeInvalid)
		}
		return "", nil, opErr
	}

	s.security.Event(ctx, EventLoginAttempt, probe.ID.String(), true, "", meta)
	observeLogin(start, outcomeSuccess)
	return plainToken, session, nil
}

// Logout deactivates the session with the given token. Logging out an
// already-inactive or unknown session returns SESSION_NOT_FOUND, which
// callers should treat as already-logged-out.
func (s *Service) Logout(ctx context.Context, token string, meta ClientMeta) error {
	hash := HashToken(token)
	if err := s.sessions.Deactivate(ctx, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.security.Event(ctx, EventLogout, "", false, "no active session for token", meta)
			return oops.Code(CodeSessionNotFound).Errorf("no active session for token")
		}
		s.security.Event(ctx, EventLogout, "", false, "deactivate failed", meta)
		return oops.Code(CodeInternal).With("operation", "deactivate session").Wrap(err)
	}
	s.security.Event(ctx, EventLogout, "", true, "", meta)
	return nil
}

// RequestPasswordReset issues a reset token for a verified account.
// The outcome is uniform: unknown or unverified emails burn equivalent
// work and still return nil. Enumeration resistance is a correctness
// property here, not an optimization.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta ClientMeta) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		normalized = email
	}

	user, lookupErr := s.users.GetByEmail(ctx, normalized)
	if lookupErr != nil || !user.EmailVerified {
		if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
			return oops.Code(CodeInternal).With("operation", "get user by email").Wrap(lookupErr)
		}
		// Generate and discard a token so the reply is not instant. The
		// real path additionally writes a row and notifies; that
		// residual skew is storage latency, not a per-account signal.
		_, _, _ = GenerateToken() //nolint:errcheck // discarded no-op
		s.security.Event(ctx, EventResetRequest, normalized, true, "", meta)
		passwordResets.WithLabelValues("requested").Inc()
		return nil
	}

	now := s.clock.Now()
	var plainToken string
	var token *ActionToken
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		plainToken, token, txErr = s.issueToken(ctx, TokenReset, user.ID, now)
		return txErr
	})
	if err != nil {
		return err
	}

	s.notifier.Send(ctx, Notification{
		Recipient: user.Email,
		Kind:      NotifyReset,
		Token:     plainToken,
		ExpiresAt: token.ExpiresAt,
	})
	s.security.Event(ctx, EventResetRequest, user.ID.String(), true, "", meta)
	passwordResets.WithLabelValues("requested").Inc()
	return nil
}

// ResetPassword consumes a reset token, stores the new password hash,
// and revokes every active session of the user. The cascade is atomic
// with the password change.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	now := s.clock.Now()
	hash := HashToken(token)

	var userID ulid.ULID
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		tok, txErr := s.tokens.GetByTokenHash(ctx, TokenReset, hash)
		if txErr != nil {
			if errors.Is(txErr, ErrNotFound) {
				return oops.Code(CodeResetTokenNotFound).Errorf("password reset token not found")
			}
			return txErr
		}
		if tok.IsExpiredAt(now) {
			return oops.Code(CodeResetTokenExpired).Errorf("password reset token has expired")
		}
		if tok.Used {
			return oops.Code(CodeResetTokenUsed).Errorf("password reset token already used")
		}

		if txErr = ValidatePasswordStrength(newPassword); txErr != nil {
			return txErr
		}

		user, txErr := s.users.GetByID(ctx, tok.UserID)
		if txErr != nil {
			return txErr
		}

		passwordHash, txErr := s.hasher.Hash(newPassword)
		if txErr != nil {
			return oops.Code(CodeInternal).With("operation", "hash password").Wrap(txErr)
		}

		user.SetPassword(passwordHash, now)
		if txErr = s.users.Update(ctx, user); txErr != nil {
			return txErr
		}
		if txErr = s.tokens.MarkUsed(ctx, TokenReset, tok.ID, now); txErr != nil {
			return txErr
		}
		userID = user.ID
		return s.sessions.DeactivateByUser(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	s.security.Event(ctx, EventResetSuccess, userID.String(), true, "", ClientMeta{})
	passwordResets.WithLabelValues("completed").Inc()
	return nil
}

// ValidateSession resolves a session token to its owning user ID.
// Expired and not-found are distinguished for diagnostics only; callers
// should treat them identically.
func (s *Service) ValidateSession(ctx context.Context, token string) (ulid.ULID, error) {
	hash := HashToken(token)
	session, err := s.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			sessionValidations.WithLabelValues("not_found").Inc()
			return ulid.ULID{}, oops.Code(CodeSessionNotFound).Errorf("session not found")
		}
		sessionValidations.WithLabelValues("error").Inc()
		return ulid.ULID{}, oops.Code(CodeInternal).With("operation", "get session by token hash").Wrap(err)
	}
	if session.IsExpiredAt(s.clock.Now()) {
		sessionValidations.WithLabelValues("expired").Inc()
		return ulid.ULID{}, oops.Code(CodeSessionExpired).Errorf("session has expired")
	}
	if !session.IsActive {
		sessionValidations.WithLabelValues("inactive").Inc()
		return ulid.ULID{}, oops.Code(CodeSessionInactive).Errorf("session has been logged out")
	}
	sessionValidations.WithLabelValues("success").Inc()
	return session.UserID, nil
}

// issueToken generates an opaque token and persists its record,
// regenerating on the (practically unreachable) hash collision.
func (s *Service) issueToken(ctx context.Context, kind TokenKind, userID ulid.ULID, now time.Time) (string, *ActionToken, error) {
	var plain string
	var token *ActionToken

	backoff := retry.WithMaxRetries(tokenCollisionRetries, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		value, hash, genErr := GenerateToken()
		if genErr != nil {
			return genErr
		}
		candidate, newErr := NewActionToken(kind, userID, hash, now, s.params.tokenTTL(kind))
		if newErr != nil {
			return newErr
		}
		if createErr := s.tokens.Create(ctx, candidate); createErr != nil {
			if errors.Is(createErr, ErrDuplicateToken) {
				return retry.RetryableError(createErr)
			}
			return createErr
		}
		plain, token = value, candidate
		return nil
	})
	if err != nil {
		return "", nil, oops.Code(CodeInternal).
			With("operation", "issue token").
			With("kind", string(kind)).
			Wrap(err)
	}
	return plain, token, nil
}

// createSession generates a session token and persists the session,
// regenerating on hash collision.
func (s *Service) createSession(ctx context.Context, userID ulid.ULID, meta ClientMeta, now time.Time) (string, *Session, error) {
	var plain string
	var session *Session

	backoff := retry.WithMaxRetries(tokenCollisionRetries, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		value, hash, genErr := GenerateToken()
		if genErr != nil {
			return genErr
		}
		candidate, newErr := NewSession(userID, hash, meta.UserAgent, meta.IPAddress, now, s.params.SessionTTL)
		if newErr != nil {
			return newErr
		}
		if createErr := s.sessions.Create(ctx, candidate); createErr != nil {
			if errors.Is(createErr, ErrDuplicateToken) {
				return retry.RetryableError(createErr)
			}
			return createErr
		}
		plain, session = value, candidate
		return nil
	})
	if err != nil {
		return "", nil, oops.Code(CodeInternal).With("operation", "create session").Wrap(err)
	}
	return plain, session, nil
}
