// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"
)

// DefaultSweepInterval is how often the sweeper reaps expired rows.
const DefaultSweepInterval = time.Hour

var sweptRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatehouse_swept_rows_total",
	Help: "Expired rows removed by the sweeper, by table.",
}, []string{"table"})

// Sweeper periodically deletes expired sessions and action tokens.
// Expiry itself is enforced lazily at read time; the sweeper only
// reclaims storage, so a delayed or skipped sweep never affects
// correctness.
type Sweeper struct {
	sessions SessionRepository
	tokens   TokenRepository
	clock    Clock
	logger   *slog.Logger
	interval time.Duration
}

// NewSweeper creates a Sweeper. A non-positive interval falls back to
// DefaultSweepInterval.
func NewSweeper(sessions SessionRepository, tokens TokenRepository, clock Clock, logger *slog.Logger, interval time.Duration) *Sweeper {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		sessions: sessions,
		tokens:   tokens,
		clock:    clock,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. It
// sweeps once immediately on start.
func (sw *Sweeper) Run(ctx context.Context) error {
	if err := sw.sweep(ctx); err != nil {
		sw.logger.ErrorContext(ctx, "sweep failed", "error", err)
	}

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sw.sweep(ctx); err != nil {
				sw.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep, retrying transient failures.
func (sw *Sweeper) RunOnce(ctx context.Context) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := sw.sweep(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (sw *Sweeper) sweep(ctx context.Context) error {
	now := sw.clock.Now()

	sessions, err := sw.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	sweptRows.WithLabelValues("sessions").Add(float64(sessions))

	verifications, err := sw.tokens.DeleteExpired(ctx, TokenVerification, now)
	if err != nil {
		return err
	}
	sweptRows.WithLabelValues("verification_tokens").Add(float64(verifications))

	resets, err := sw.tokens.DeleteExpired(ctx, TokenReset, now)
	if err != nil {
		return err
	}
	sweptRows.WithLabelValues("password_reset_tokens").Add(float64(resets))

	if total := sessions + verifications + resets; total > 0 {
		sw.logger.InfoContext(ctx, "swept expired rows",
			"sessions", sessions,
			"verification_tokens", verifications,
			"password_reset_tokens", resets)
	}
	return nil
}
