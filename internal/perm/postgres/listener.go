// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PgListener delivers permission_changed notifications over a dedicated
// connection. LISTEN state is per-connection in PostgreSQL, so the
// listener holds one connection outside the pool's rotation and
// re-establishes it with exponential backoff when it drops.
type PgListener struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgListener creates a listener on the given pool. A nil logger falls
// back to slog.Default.
func NewPgListener(pool *pgxpool.Pool, logger *slog.Logger) *PgListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgListener{pool: pool, logger: logger}
}

// Listen starts the notification loop and returns the channel payloads
// arrive on. The channel closes when ctx is cancelled. A dropped
// connection is retried indefinitely; notifications sent while
// disconnected are lost, which the staleness threshold on the membership
// cache covers.
func (l *PgListener) Listen(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	go l.run(ctx, ch)
	return ch, nil
}

func (l *PgListener) run(ctx context.Context, ch chan<- string) {
	defer close(ch)

	backoff := retry.WithCappedDuration(30*time.Second,
		retry.NewExponential(500*time.Millisecond))

	// listenOnce only returns on failure, so retry.Do runs until ctx is
	// cancelled. The cap keeps reconnect attempts frequent enough after a
	// long outage.
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(l.listenOnce(ctx, ch))
	})
}

// listenOnce acquires a connection, issues LISTEN, and forwards
// notifications until the connection or context fails.
func (l *PgListener) listenOnce(ctx context.Context, ch chan<- string) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return oops.Code("LISTEN_ACQUIRE_FAILED").Wrap(err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+permissionChangedChannel); err != nil {
		return oops.Code("LISTEN_FAILED").
			With("channel", permissionChangedChannel).Wrap(err)
	}
	l.logger.Debug("listening for permission changes",
		slog.String("channel", permissionChangedChannel))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("notification connection lost, reconnecting",
				slog.String("error", err.Error()))
			return oops.Code("LISTEN_WAIT_FAILED").Wrap(err)
		}
		select {
		case ch <- notification.Payload:
		default:
			// A full channel means a reload is already pending; the
			// coalesced signal is equivalent.
		}
	}
}
