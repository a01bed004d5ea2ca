// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
)

const serviceName = "gatehouse"

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	var daemon bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and tokens",
		Long: `Delete expired sessions, verification tokens, and password reset
tokens. Expiry is enforced lazily at read time; sweeping only reclaims
storage. By default runs once and exits; with --daemon it sweeps on the
configured interval until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), cmd, daemon)
		},
	}

	cmd.Flags().BoolVar(&daemon, "daemon", false, "sweep on an interval instead of once")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address in daemon mode (empty = disabled)")
	cmd.Flags().String("log-format", "", "log format (json or text)")
	cmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().Duration("sweep-interval", 0, "interval between sweeps in daemon mode")

	return cmd
}

func runSweep(ctx context.Context, cmd *cobra.Command, daemon bool) error {
	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger.InfoContext(ctx, "connected to database")

	sweeper := auth.NewSweeper(
		authpg.NewSessionRepository(pool),
		authpg.NewTokenRepository(pool),
		auth.SystemClock{},
		logger,
		cfg.Sweep.Interval,
	)

	if !daemon {
		if err := sweeper.RunOnce(ctx); err != nil {
			return err
		}
		cmd.Println("Sweep complete")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, func() bool { return true })
		obsErrCh, obsErr := obsServer.Start()
		if obsErr != nil {
			return obsErr
		}
		go func() {
			if serveErr, ok := <-obsErrCh; ok && serveErr != nil {
				logger.Error("observability server failed", "error", serveErr)
				cancel()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sweepErrCh := make(chan error, 1)
	go func() {
		sweepErrCh <- sweeper.Run(ctx)
	}()

	logger.InfoContext(ctx, "sweeper started", "interval", cfg.Sweep.Interval)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-sweepErrCh
	case err := <-sweepErrCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
	}

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("error stopping observability server", "error", stopErr)
		}
	}

	logger.Info("shutdown complete")
	return nil
}
