// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import "time"

// Lockout policy defaults.
const (
	// DefaultMaxLoginAttempts is the number of failures inside the
	// window that triggers a lockout.
	DefaultMaxLoginAttempts = 5

	// DefaultFailureWindow is how long failures are counted before the
	// window resets.
	DefaultFailureWindow = 15 * time.Minute

	// DefaultLockDuration is how long an account stays locked.
	DefaultLockDuration = 30 * time.Minute
)

// LockoutPolicy holds the constants of the failed-login lockout rule.
type LockoutPolicy struct {
	MaxAttempts   int
	FailureWindow time.Duration
	LockDuration  time.Duration
}

// DefaultLockoutPolicy returns the standard policy constants.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:   DefaultMaxLoginAttempts,
		FailureWindow: DefaultFailureWindow,
		LockDuration:  DefaultLockDuration,
	}
}

// NextFailure computes the failure counter transition for a failed
// attempt at now. If the counting window has lapsed (or never started)
// the counter restarts at 1 with a fresh window.
func NextFailure(count int, windowStart *time.Time, now time.Time, policy LockoutPolicy) (int, *time.Time) {
	if windowStart == nil || now.Sub(*windowStart) > policy.FailureWindow {
		start := now
		return 1, &start
	}
	return count + 1, windowStart
}

// ComputeLockout returns the lock expiry for the given failure count,
// or nil if the count is below the policy threshold.
func ComputeLockout(count int, now time.Time, policy LockoutPolicy) *time.Time {
	if count < policy.MaxAttempts {
		return nil
	}
	until := now.Add(policy.LockDuration)
	return &until
}

// LockElapsed reports whether a lock set until lockedUntil has run out
// at now. A nil lockedUntil is treated as elapsed; the locked flag
// without an expiry is an invalid state and must not pin the account.
func LockElapsed(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil == nil || !now.Before(*lockedUntil)
}
