// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint is violated.
// Repositories wrap it so callers can map it to the right user-facing
// error (duplicate email on registration).
var ErrConflict = errors.New("already exists")

// ErrDuplicateToken is returned when a freshly generated token value
// collides with a stored one. The engine regenerates and retries;
// with 256-bit tokens this is practically unreachable.
var ErrDuplicateToken = errors.New("duplicate token")

// Error codes returned by the engine. The transport layer maps these to
// wire responses; anything not listed here is an internal failure and
// must be surfaced to clients as a generic error.
const (
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeInternal           = "AUTH_INTERNAL"

	CodeVerifyTokenNotFound = "VERIFY_TOKEN_NOT_FOUND"
	CodeVerifyTokenExpired  = "VERIFY_TOKEN_EXPIRED"
	CodeVerifyTokenUsed     = "VERIFY_TOKEN_USED"

	CodeResetTokenNotFound = "RESET_TOKEN_NOT_FOUND"
	CodeResetTokenExpired  = "RESET_TOKEN_EXPIRED"
	CodeResetTokenUsed     = "RESET_TOKEN_USED"

	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeSessionInactive = "SESSION_INACTIVE"
)

// HasCode reports whether err is an oops error carrying the given code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

// IsRecoverable reports whether err represents a user-correctable
// outcome rather than an infrastructure failure. Callers use this to
// decide between a 4xx-style response and a generic failure.
func IsRecoverable(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	switch oopsErr.Code() {
	case CodeInvalidEmail, CodeWeakPassword, CodeEmailTaken,
		CodeInvalidCredentials, CodeAccountLocked, CodeEmailNotVerified,
		CodeVerifyTokenNotFound, CodeVerifyTokenExpired, CodeVerifyTokenUsed,
		CodeResetTokenNotFound, CodeResetTokenExpired, CodeResetTokenUsed,
		CodeSessionNotFound, CodeSessionExpired, CodeSessionInactive:
		return true
	}
	return false
}
