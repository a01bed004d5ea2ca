// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth implements the credential and session lifecycle for
// email/password accounts.
//
// # Domain Types
//
// Domain types (User, Session, ActionToken) should be created using
// their respective constructors:
//   - NewUser - creates a User with a normalized email and password hash
//   - NewSession - creates a Session with validated owner and expiry
//   - NewActionToken - creates a verification or reset token with expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Engine
//
// Service is the orchestrator: registration, email verification, login,
// logout, password reset, and session validation, each executed as a
// single transaction through a Transactor. Expiry and lockout decisions
// are evaluated lazily at read time against an injected Clock; no
// background timers are involved. Reclamation of expired rows is the
// Sweeper's job and is a housekeeping concern, not a correctness one.
package auth
