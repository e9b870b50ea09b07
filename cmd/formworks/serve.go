// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/formworks/formworks/internal/config"
	"github.com/formworks/formworks/internal/logging"
	"github.com/formworks/formworks/internal/observability"
	"github.com/formworks/formworks/internal/perm"
	"github.com/formworks/formworks/internal/perm/audit"
	permpg "github.com/formworks/formworks/internal/perm/postgres"
	"github.com/formworks/formworks/internal/store"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the permission engine service",
		Long: `Start the permission engine: connects to PostgreSQL, warms the
membership cache, listens for permission change notifications, and serves
metrics and health probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// engine bundles the wired permission services for embedding transports.
type engine struct {
	resolver *perm.Resolver
	matrix   *perm.MatrixService
	roles    *perm.RoleService
	reports  *perm.AccessService
	cache    *perm.MembershipCache
}

// ready reports whether the engine can serve decisions from a fresh
// membership snapshot.
func (e *engine) ready() bool {
	return !e.cache.IsStale()
}

// runServe starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *serveDeps) error {
	if deps == nil {
		deps = &serveDeps{}
	}
	if deps.poolFactory == nil {
		deps.poolFactory = store.NewPool
	}
	if deps.obsFactory == nil {
		deps.obsFactory = func(addr string, rc observability.ReadinessChecker) observabilityServer {
			return observability.NewServer(addr, rc)
		}
	}

	logging.SetDefault("formworks", version, cfg.Log.Format)

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}

	slog.Info("starting permission engine",
		"log_format", cfg.Log.Format,
		"audit_mode", cfg.Audit.Mode,
	)

	pool, err := deps.poolFactory(ctx, store.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	memberships := permpg.NewMembershipRepository(pool)
	topLevel := permpg.NewTopLevelRepository(pool)
	assets := permpg.NewAssetRepository(pool)
	roles := permpg.NewRoleRepository(pool)
	resources := permpg.NewResourceRepository(pool)

	cache := perm.NewMembershipCache(memberships, memberships,
		perm.WithStalenessThreshold(cfg.Cache.StalenessThreshold))
	if err := cache.Reload(ctx); err != nil {
		// Reads fall through to the store until the first successful reload.
		slog.Warn("initial membership snapshot load failed", "error", err)
	}

	listener := permpg.NewPgListener(pool, slog.Default())
	if err := cache.StartWithListener(ctx, listener); err != nil {
		return oops.Code("LISTENER_START_FAILED").Wrap(err)
	}

	auditLogger := audit.NewLogger(audit.Mode(cfg.Audit.Mode), audit.NewSlogWriter(slog.Default()))
	defer auditLogger.Close()

	notifier := perm.SlogNotifier{}

	svc := engine{
		resolver: perm.NewResolver(perm.ResolverConfig{
			Memberships: cache,
			TopLevel:    topLevel,
			Roles:       roles,
			Notifier:    notifier,
			Audit:       auditLogger,
		}),
		matrix:  perm.NewMatrixService(cache, assets, notifier),
		roles:   perm.NewRoleService(roles, resources, cache, notifier),
		reports: perm.NewReportAccessService(assets, notifier),
		cache:   cache,
	}

	// Ready once the cache has a fresh snapshot.
	obsServer := deps.obsFactory(cfg.Observability.Addr, svc.ready)
	obsErrChan, err := obsServer.Start()
	if err != nil {
		return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Permission engine started")
	slog.Info("permission engine ready", "metrics_addr", obsServer.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	cancel()
	cache.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := obsServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels the context when a server reports an error,
// so server failures trigger graceful shutdown of the whole process.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
