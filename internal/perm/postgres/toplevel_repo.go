// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/formworks/formworks/internal/perm"
)

// TopLevelRepository persists the coarse per (project, user, entity type)
// CRUD grants.
type TopLevelRepository struct {
	db DB
}

// NewTopLevelRepository creates a PostgreSQL top-level permission
// repository.
func NewTopLevelRepository(db DB) *TopLevelRepository {
	return &TopLevelRepository{db: db}
}

// Get returns the row for (projectID, userID, entity). Absence is
// reported as ErrNotFound, which the resolver treats as default-deny.
func (r *TopLevelRepository) Get(ctx context.Context, projectID, userID string, entity perm.EntityType) (*perm.TopLevelPermission, error) {
	p := perm.TopLevelPermission{ProjectID: projectID, UserID: userID, Entity: entity}
	err := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT can_create, can_read, can_update, can_delete
		FROM top_level_permissions
		WHERE project_id = $1 AND user_id = $2 AND entity_type = $3
	`, projectID, userID, string(entity)).Scan(&p.CanCreate, &p.CanRead, &p.CanUpdate, &p.CanDelete)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOP_LEVEL_NOT_FOUND").
			With("project_id", projectID).With("user_id", userID).
			With("entity", string(entity)).Wrap(perm.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOP_LEVEL_QUERY_FAILED").
			With("project_id", projectID).With("user_id", userID).Wrap(err)
	}
	return &p, nil
}

// Upsert inserts or replaces the row for the permission's key and signals
// permission_changed in the same statement's transaction when one is
// active.
func (r *TopLevelRepository) Upsert(ctx context.Context, p *perm.TopLevelPermission) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		INSERT INTO top_level_permissions
			(project_id, user_id, entity_type, can_create, can_read, can_update, can_delete)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, user_id, entity_type) DO UPDATE
		SET can_create = EXCLUDED.can_create,
		    can_read = EXCLUDED.can_read,
		    can_update = EXCLUDED.can_update,
		    can_delete = EXCLUDED.can_delete
	`, p.ProjectID, p.UserID, string(p.Entity),
		p.CanCreate, p.CanRead, p.CanUpdate, p.CanDelete)
	if err != nil {
		return oops.Code("TOP_LEVEL_UPSERT_FAILED").
			With("project_id", p.ProjectID).With("user_id", p.UserID).Wrap(err)
	}
	if err := notifyPermissionChanged(ctx, q, "top_level:"+p.ProjectID); err != nil {
		return oops.Code("TOP_LEVEL_UPSERT_FAILED").
			With("operation", "notify").With("project_id", p.ProjectID).Wrap(err)
	}
	return nil
}

// Delete removes the row. Deleting an absent row is a no-op success.
func (r *TopLevelRepository) Delete(ctx context.Context, projectID, userID string, entity perm.EntityType) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		DELETE FROM top_level_permissions
		WHERE project_id = $1 AND user_id = $2 AND entity_type = $3
	`, projectID, userID, string(entity))
	if err != nil {
		return oops.Code("TOP_LEVEL_DELETE_FAILED").
			With("project_id", projectID).With("user_id", userID).Wrap(err)
	}
	if err := notifyPermissionChanged(ctx, q, "top_level:"+projectID); err != nil {
		return oops.Code("TOP_LEVEL_DELETE_FAILED").
			With("operation", "notify").With("project_id", projectID).Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ perm.TopLevelStore = (*TopLevelRepository)(nil)
