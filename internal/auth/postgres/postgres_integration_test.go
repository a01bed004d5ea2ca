// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/store"
)

// captureNotifier records notifications so tests can pull the plaintext
// verification and reset tokens.
type captureNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
}

func (n *captureNotifier) Send(_ context.Context, notification auth.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *captureNotifier) last() auth.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	Expect(n.sent).NotTo(BeEmpty(), "expected a notification to have been sent")
	return n.sent[len(n.sent)-1]
}

// setupService starts a PostgreSQL container, migrates the schema, and
// wires a Service against it.
func setupService() (*auth.Service, *captureNotifier, *pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gatehouse_test"),
		tcpostgres.WithUsername("gatehouse"),
		tcpostgres.WithPassword("gatehouse"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, nil, nil, nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, nil, nil, err
	}

	notifier := &captureNotifier{}
	svc, err := auth.NewService(auth.Deps{
		Users:      authpg.NewUserRepository(pool),
		Sessions:   authpg.NewSessionRepository(pool),
		Tokens:     authpg.NewTokenRepository(pool),
		Transactor: authpg.NewTransactor(pool),
		Hasher:     auth.NewArgon2idHasher(),
		Notifier:   notifier,
	})
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, nil, nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return svc, notifier, pool, cleanup, nil
}

var _ = Describe("Auth service over PostgreSQL", func() {
	var (
		svc      *auth.Service
		notifier *captureNotifier
		pool     *pgxpool.Pool
		cleanup  func()
	)

	const password = "Sw0rdfish!9"
	meta := auth.ClientMeta{UserAgent: "integration-test", IPAddress: "203.0.113.7"}

	BeforeEach(func() {
		var err error
		svc, notifier, pool, cleanup, err = setupService()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	registerVerified := func(email string) {
		ctx := context.Background()
		_, err := svc.Register(ctx, email, password, meta)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.VerifyEmail(ctx, notifier.last().Token)).To(Succeed())
	}

	Describe("registration and verification", func() {
		It("walks an account from registration to an authenticated session", func() {
			ctx := context.Background()

			userID, err := svc.Register(ctx, "Alice@Example.com", password, meta)
			Expect(err).NotTo(HaveOccurred())

			sent := notifier.last()
			Expect(sent.Kind).To(Equal(auth.NotifyVerification))
			Expect(sent.Recipient).To(Equal("alice@example.com"))

			// Unverified accounts cannot log in yet.
			_, _, err = svc.Login(ctx, "alice@example.com", password, meta)
			Expect(auth.HasCode(err, auth.CodeEmailNotVerified)).To(BeTrue())

			Expect(svc.VerifyEmail(ctx, sent.Token)).To(Succeed())

			token, session, err := svc.Login(ctx, "alice@example.com", password, meta)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.UserID).To(Equal(userID))

			validated, err := svc.ValidateSession(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(validated).To(Equal(userID))
		})

		It("rejects a duplicate email case-insensitively", func() {
			ctx := context.Background()
			_, err := svc.Register(ctx, "alice@example.com", password, meta)
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Register(ctx, "ALICE@example.com", password, meta)
			Expect(auth.HasCode(err, auth.CodeEmailTaken)).To(BeTrue())
		})

		It("rejects a replayed verification token", func() {
			ctx := context.Background()
			_, err := svc.Register(ctx, "alice@example.com", password, meta)
			Expect(err).NotTo(HaveOccurred())

			token := notifier.last().Token
			Expect(svc.VerifyEmail(ctx, token)).To(Succeed())
			err = svc.VerifyEmail(ctx, token)
			Expect(auth.HasCode(err, auth.CodeVerifyTokenUsed)).To(BeTrue())
		})
	})

	Describe("login and lockout", func() {
		BeforeEach(func() {
			registerVerified("alice@example.com")
		})

		It("locks the account after repeated failures", func() {
			ctx := context.Background()

			var lastErr error
			for range 5 {
				_, _, lastErr = svc.Login(ctx, "alice@example.com", "Wr0ng!pass", meta)
				Expect(lastErr).To(HaveOccurred())
			}
			Expect(auth.HasCode(lastErr, auth.CodeAccountLocked)).To(BeTrue())

			// Even the correct password is refused while locked.
			_, _, err := svc.Login(ctx, "alice@example.com", password, meta)
			Expect(auth.HasCode(err, auth.CodeAccountLocked)).To(BeTrue())
		})

		It("invalidates the session on logout", func() {
			ctx := context.Background()

			token, _, err := svc.Login(ctx, "alice@example.com", password, meta)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.Logout(ctx, token, meta)).To(Succeed())

			_, err = svc.ValidateSession(ctx, token)
			Expect(auth.HasCode(err, auth.CodeSessionInactive)).To(BeTrue())
		})
	})

	Describe("password reset", func() {
		const newPassword = "N3w!passphrase"

		BeforeEach(func() {
			registerVerified("alice@example.com")
		})

		It("rotates the credential and revokes open sessions", func() {
			ctx := context.Background()

			sessionToken, _, err := svc.Login(ctx, "alice@example.com", password, meta)
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.RequestPasswordReset(ctx, "alice@example.com", meta)).To(Succeed())
			reset := notifier.last()
			Expect(reset.Kind).To(Equal(auth.NotifyReset))

			Expect(svc.ResetPassword(ctx, reset.Token, newPassword)).To(Succeed())

			// The old session died with the old credential.
			_, err = svc.ValidateSession(ctx, sessionToken)
			Expect(auth.HasCode(err, auth.CodeSessionInactive)).To(BeTrue())

			_, _, err = svc.Login(ctx, "alice@example.com", password, meta)
			Expect(auth.HasCode(err, auth.CodeInvalidCredentials)).To(BeTrue())
			_, _, err = svc.Login(ctx, "alice@example.com", newPassword, meta)
			Expect(err).NotTo(HaveOccurred())
		})

		It("stays silent for an unknown email", func() {
			ctx := context.Background()
			before := len(notifier.sent)

			Expect(svc.RequestPasswordReset(ctx, "ghost@example.com", meta)).To(Succeed())
			Expect(notifier.sent).To(HaveLen(before))
		})
	})

	Describe("concurrent logins", func() {
		BeforeEach(func() {
			registerVerified("alice@example.com")
		})

		It("serializes failure counting on the user row", func() {
			ctx := context.Background()

			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, _, err := svc.Login(ctx, "alice@example.com", "Wr0ng!pass", meta)
					Expect(err).To(HaveOccurred())
				}()
			}
			wg.Wait()

			var failed int
			err := pool.QueryRow(ctx,
				`SELECT failed_login_count FROM users WHERE email = $1`,
				"alice@example.com").Scan(&failed)
			Expect(err).NotTo(HaveOccurred())
			Expect(failed).To(Equal(4))
		})
	})
})
