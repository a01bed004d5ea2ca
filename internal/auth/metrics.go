// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the auth engine.
var (
	// loginDuration tracks end-to-end login latency, dominated by the
	// intentionally expensive hashing work.
	loginDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gatehouse_login_duration_seconds",
		Help:    "Histogram of login operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// loginAttempts counts login attempts by outcome.
	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_login_attempts_total",
		Help: "Total number of login attempts",
	}, []string{"outcome"})

	// registrations counts registration attempts by outcome.
	registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_registrations_total",
		Help: "Total number of registration attempts",
	}, []string{"outcome"})

	// lockouts counts accounts locked by the failure threshold.
	lockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_account_lockouts_total",
		Help: "Total number of account lockouts triggered",
	})

	// passwordResets counts reset requests and completions.
	passwordResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_password_resets_total",
		Help: "Total number of password reset operations by stage",
	}, []string{"stage"})

	// sessionValidations counts session validation results.
	sessionValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_session_validations_total",
		Help: "Total number of session validations by outcome",
	}, []string{"outcome"})
)

// Login outcome label values.
const (
	outcomeSuccess    = "success"
	outcomeInvalid    = "invalid_credentials"
	outcomeLocked     = "locked"
	outcomeUnverified = "unverified"
	outcomeError      = "error"
)

func observeLogin(start time.Time, outcome string) {
	loginDuration.Observe(time.Since(start).Seconds())
	loginAttempts.WithLabelValues(outcome).Inc()
}
