// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"log/slog"
)

// Security event types emitted to the audit sink.
const (
	EventRegistration      = "registration"
	EventEmailVerification = "email_verification"
	EventLoginAttempt      = "login_attempt"
	EventLogout            = "logout"
	EventResetRequest      = "password_reset_request"
	EventResetSuccess      = "password_reset_success"
	EventAccountLocked     = "account_locked"
	EventAccountUnlocked   = "account_unlocked"
)

// ClientMeta carries request-level metadata for the audit trail. It is
// never consulted by authorization logic.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// SecurityLog writes one structured record per operation outcome. The
// record is the contract with the external log sink: event type,
// subject, outcome, and the real failure reason even when the
// user-facing error is deliberately generic.
type SecurityLog struct {
	logger *slog.Logger
}

// NewSecurityLog creates a SecurityLog. A nil logger uses slog.Default.
func NewSecurityLog(logger *slog.Logger) *SecurityLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityLog{logger: logger.With("log", "security")}
}

// Event records a security event. subject is a user ID when known,
// otherwise the submitted email. reason is empty on success.
func (s *SecurityLog) Event(ctx context.Context, event, subject string, success bool, reason string, meta ClientMeta) {
	attrs := []any{
		"event_type", event,
		"subject", subject,
		"outcome", outcome(success),
	}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if meta.IPAddress != "" {
		attrs = append(attrs, "ip_address", meta.IPAddress)
	}
	if meta.UserAgent != "" {
		attrs = append(attrs, "user_agent", meta.UserAgent)
	}
	if success {
		s.logger.InfoContext(ctx, "security event", attrs...)
	} else {
		s.logger.WarnContext(ctx, "security event", attrs...)
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
