// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

// Package postgres implements the permission stores on PostgreSQL.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the pool surface the repositories require. Both *pgxpool.Pool
// and pgxmock.PgxPoolIface satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is the execution surface shared by DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txKey is the context key carrying an active pgx.Tx.
type txKey struct{}

// querierFrom returns the transaction stored in ctx, or the pool, so
// repository methods participate in an ambient transaction when one is
// active.
func querierFrom(ctx context.Context, db DB) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

// permissionChangedChannel is the pg_notify channel administrative writes
// signal so resolver caches reload.
const permissionChangedChannel = "permission_changed"

// notifyPermissionChanged sends the invalidation signal within the same
// transaction as the write it describes.
func notifyPermissionChanged(ctx context.Context, q querier, payload string) error {
	_, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, permissionChangedChannel, payload)
	return err
}
