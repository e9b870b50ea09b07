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

// ResourceRepository reads the resource catalog and cascade-deletes
// resources together with their asset permission rows.
type ResourceRepository struct {
	db DB
}

// NewResourceRepository creates a PostgreSQL resource repository.
func NewResourceRepository(db DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// Get returns one catalog entry.
func (r *ResourceRepository) Get(ctx context.Context, id string) (*perm.Resource, error) {
	var res perm.Resource
	var resourceType string
	err := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT id, project_id, resource_type, name FROM resources WHERE id = $1
	`, id).Scan(&res.ID, &res.ProjectID, &resourceType, &res.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESOURCE_NOT_FOUND").With("resource_id", id).Wrap(perm.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESOURCE_QUERY_FAILED").With("resource_id", id).Wrap(err)
	}
	res.Type = perm.ResourceType(resourceType)
	return &res, nil
}

// ListByProject returns all catalog entries for a project.
func (r *ResourceRepository) ListByProject(ctx context.Context, projectID string) ([]perm.Resource, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, `
		SELECT id, project_id, resource_type, name FROM resources
		WHERE project_id = $1 ORDER BY resource_type, name
	`, projectID)
	if err != nil {
		return nil, oops.Code("RESOURCE_QUERY_FAILED").With("project_id", projectID).Wrap(err)
	}
	defer rows.Close()

	resources := make([]perm.Resource, 0)
	for rows.Next() {
		var res perm.Resource
		var resourceType string
		if err := rows.Scan(&res.ID, &res.ProjectID, &resourceType, &res.Name); err != nil {
			return nil, oops.Code("RESOURCE_SCAN_FAILED").Wrap(err)
		}
		res.Type = perm.ResourceType(resourceType)
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("RESOURCE_ITERATE_FAILED").Wrap(err)
	}
	return resources, nil
}

// Delete removes the resource after cascade-deleting its asset
// permission rows, in one transaction. Grants must never outlive the
// asset they point at.
func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	return NewTransactor(r.db).InTransaction(ctx, func(ctx context.Context) error {
		q := querierFrom(ctx, r.db)

		var projectID, resourceType string
		err := q.QueryRow(ctx, `
			SELECT project_id, resource_type FROM resources WHERE id = $1
		`, id).Scan(&projectID, &resourceType)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("RESOURCE_NOT_FOUND").With("resource_id", id).Wrap(perm.ErrNotFound)
		}
		if err != nil {
			return oops.Code("RESOURCE_DELETE_FAILED").With("resource_id", id).Wrap(err)
		}

		_, err = q.Exec(ctx, `
			DELETE FROM asset_permissions
			WHERE project_id = $1 AND asset_type = $2 AND asset_id = $3
		`, projectID, resourceType, id)
		if err != nil {
			return oops.Code("RESOURCE_DELETE_FAILED").
				With("resource_id", id).With("operation", "cascade").Wrap(err)
		}

		if _, err := q.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id); err != nil {
			return oops.Code("RESOURCE_DELETE_FAILED").With("resource_id", id).Wrap(err)
		}
		return notifyPermissionChanged(ctx, q, "resource:"+id)
	})
}

// Compile-time interface check.
var _ perm.ResourceStore = (*ResourceRepository)(nil)
