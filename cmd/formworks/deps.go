// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formworks/formworks/internal/observability"
	"github.com/formworks/formworks/internal/store"
)

// serveDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type serveDeps struct {
	// poolFactory connects the pgx pool. Default: store.NewPool.
	poolFactory func(ctx context.Context, cfg store.PoolConfig) (*pgxpool.Pool, error)

	// obsFactory creates the metrics/health server.
	// Default: observability.NewServer.
	obsFactory func(addr string, readinessChecker observability.ReadinessChecker) observabilityServer
}

// observabilityServer wraps the methods used from observability.Server.
type observabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
