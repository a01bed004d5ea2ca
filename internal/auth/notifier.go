// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"log/slog"
	"time"
)

// NotificationKind distinguishes outbound email instructions.
type NotificationKind string

// Notification kinds.
const (
	NotifyVerification NotificationKind = "verification"
	NotifyReset        NotificationKind = "reset"
)

// Notification is the fire-and-forget instruction handed to the mail
// transport. The token travels in plaintext here and nowhere else.
type Notification struct {
	Recipient string
	Kind      NotificationKind
	Token     string
	ExpiresAt time.Time
}

// Notifier delivers notifications asynchronously. Implementations must
// not block the caller on transport latency; delivery failures are
// invisible to the engine and never roll back entity mutations.
type Notifier interface {
	Send(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured log instead of a
// mail transport. Used in development and as the default when no SMTP
// relay is wired up.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the notification. The token is logged deliberately: this
// implementation exists so local flows can be completed without a
// mailbox.
func (n *LogNotifier) Send(ctx context.Context, notification Notification) {
	n.logger.InfoContext(ctx, "outbound notification",
		"kind", string(notification.Kind),
		"recipient", notification.Recipient,
		"token", notification.Token,
		"expires_at", notification.ExpiresAt,
	)
}

var _ Notifier = (*LogNotifier)(nil)
