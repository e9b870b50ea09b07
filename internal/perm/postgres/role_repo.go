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

// RoleRepository persists roles, their permission rows, and user
// assignments. Permission rows live in role_permissions and are always
// rewritten as a full set; there is no row-level update.
type RoleRepository struct {
	db DB
}

// NewRoleRepository creates a PostgreSQL role repository.
func NewRoleRepository(db DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create inserts the role row only. Permission rows are inserted
// separately by InsertPermissions.
func (r *RoleRepository) Create(ctx context.Context, role *perm.Role) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, `
		INSERT INTO roles (id, org_id, name, description, top_level_access, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, role.ID, role.OrgID, role.Name, role.Description,
		string(role.TopLevelAccess), role.CreatedBy, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return oops.Code("ROLE_CREATE_FAILED").
			With("role_id", role.ID).With("name", role.Name).Wrap(err)
	}
	return nil
}

// Get returns a role with its permission rows.
func (r *RoleRepository) Get(ctx context.Context, roleID string) (*perm.Role, error) {
	q := querierFrom(ctx, r.db)

	var role perm.Role
	var access string
	err := q.QueryRow(ctx, `
		SELECT id, org_id, name, description, top_level_access, created_by, created_at, updated_at
		FROM roles WHERE id = $1
	`, roleID).Scan(&role.ID, &role.OrgID, &role.Name, &role.Description,
		&access, &role.CreatedBy, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ROLE_NOT_FOUND").With("role_id", roleID).Wrap(perm.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ROLE_QUERY_FAILED").With("role_id", roleID).Wrap(err)
	}
	role.TopLevelAccess = perm.TopLevelAccess(access)

	rows, err := q.Query(ctx, `
		SELECT role_id, resource_type, resource_id, permission
		FROM role_permissions WHERE role_id = $1
		ORDER BY resource_type, resource_id, permission
	`, roleID)
	if err != nil {
		return nil, oops.Code("ROLE_QUERY_FAILED").With("role_id", roleID).Wrap(err)
	}
	role.Permissions, err = scanRolePermissions(rows)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// UpdateFields updates the role's scalar fields.
func (r *RoleRepository) UpdateFields(ctx context.Context, role *perm.Role) error {
	tag, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE roles
		SET name = $2, description = $3, top_level_access = $4, updated_at = $5
		WHERE id = $1
	`, role.ID, role.Name, role.Description, string(role.TopLevelAccess), role.UpdatedAt)
	if err != nil {
		return oops.Code("ROLE_UPDATE_FAILED").With("role_id", role.ID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ROLE_NOT_FOUND").With("role_id", role.ID).Wrap(perm.ErrNotFound)
	}
	return nil
}

// InsertPermissions batch-inserts permission rows for a role. Duplicate
// scopes are tolerated as redundant grants, so there is no conflict
// clause.
func (r *RoleRepository) InsertPermissions(ctx context.Context, roleID string, perms []perm.RolePermission) error {
	q := querierFrom(ctx, r.db)
	for _, p := range perms {
		_, err := q.Exec(ctx, `
			INSERT INTO role_permissions (role_id, resource_type, resource_id, permission)
			VALUES ($1, $2, $3, $4)
		`, roleID, string(p.ResourceType), p.ResourceID, string(p.Permission))
		if err != nil {
			return oops.Code("ROLE_PERMISSIONS_INSERT_FAILED").
				With("role_id", roleID).
				With("resource_type", string(p.ResourceType)).
				With("resource_id", p.ResourceID).Wrap(err)
		}
	}
	if err := notifyPermissionChanged(ctx, q, "role:"+roleID); err != nil {
		return oops.Code("ROLE_PERMISSIONS_INSERT_FAILED").
			With("operation", "notify").With("role_id", roleID).Wrap(err)
	}
	return nil
}

// ReplacePermissions deletes all existing permission rows for the role
// and inserts the given set in one transaction.
func (r *RoleRepository) ReplacePermissions(ctx context.Context, roleID string, perms []perm.RolePermission) error {
	return NewTransactor(r.db).InTransaction(ctx, func(ctx context.Context) error {
		q := querierFrom(ctx, r.db)
		if _, err := q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return oops.Code("ROLE_PERMISSIONS_REPLACE_FAILED").With("role_id", roleID).Wrap(err)
		}
		return r.InsertPermissions(ctx, roleID, perms)
	})
}

// Delete removes the role's permission rows, then the role row.
// Existing assignments are left in place and become inert.
func (r *RoleRepository) Delete(ctx context.Context, roleID string) error {
	return NewTransactor(r.db).InTransaction(ctx, func(ctx context.Context) error {
		q := querierFrom(ctx, r.db)
		if _, err := q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return oops.Code("ROLE_DELETE_FAILED").With("role_id", roleID).Wrap(err)
		}
		tag, err := q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return oops.Code("ROLE_DELETE_FAILED").With("role_id", roleID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return oops.Code("ROLE_NOT_FOUND").With("role_id", roleID).Wrap(perm.ErrNotFound)
		}
		return notifyPermissionChanged(ctx, q, "role:"+roleID)
	})
}

// ListByOrg returns all roles in an organization with their permission
// rows. Two queries, stitched in memory.
func (r *RoleRepository) ListByOrg(ctx context.Context, orgID string) ([]*perm.Role, error) {
	q := querierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, org_id, name, description, top_level_access, created_by, created_at, updated_at
		FROM roles WHERE org_id = $1 ORDER BY name
	`, orgID)
	if err != nil {
		return nil, oops.Code("ROLE_QUERY_FAILED").With("org_id", orgID).Wrap(err)
	}
	roles := make([]*perm.Role, 0)
	byID := make(map[string]*perm.Role)
	for rows.Next() {
		var role perm.Role
		var access string
		if err := rows.Scan(&role.ID, &role.OrgID, &role.Name, &role.Description,
			&access, &role.CreatedBy, &role.CreatedAt, &role.UpdatedAt); err != nil {
			rows.Close()
			return nil, oops.Code("ROLE_SCAN_FAILED").With("org_id", orgID).Wrap(err)
		}
		role.TopLevelAccess = perm.TopLevelAccess(access)
		role.Permissions = make([]perm.RolePermission, 0)
		roles = append(roles, &role)
		byID[role.ID] = &role
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ROLE_ITERATE_FAILED").With("org_id", orgID).Wrap(err)
	}
	if len(roles) == 0 {
		return roles, nil
	}

	permRows, err := q.Query(ctx, `
		SELECT rp.role_id, rp.resource_type, rp.resource_id, rp.permission
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		WHERE r.org_id = $1
		ORDER BY rp.role_id, rp.resource_type, rp.resource_id, rp.permission
	`, orgID)
	if err != nil {
		return nil, oops.Code("ROLE_QUERY_FAILED").With("org_id", orgID).Wrap(err)
	}
	perms, err := scanRolePermissions(permRows)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if role, ok := byID[p.RoleID]; ok {
			role.Permissions = append(role.Permissions, p)
		}
	}
	return roles, nil
}

// Assign links a user to a role with audit fields.
func (r *RoleRepository) Assign(ctx context.Context, a *perm.UserRoleAssignment) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		INSERT INTO user_role_assignments (id, user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, a.ID, a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt)
	if err != nil {
		return oops.Code("ROLE_ASSIGN_FAILED").
			With("user_id", a.UserID).With("role_id", a.RoleID).Wrap(err)
	}
	return notifyPermissionChanged(ctx, q, "assignment:"+a.UserID)
}

// Unassign removes one user-role link. Removing an absent link is a
// no-op.
func (r *RoleRepository) Unassign(ctx context.Context, userID, roleID string) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		DELETE FROM user_role_assignments WHERE user_id = $1 AND role_id = $2
	`, userID, roleID)
	if err != nil {
		return oops.Code("ROLE_UNASSIGN_FAILED").
			With("user_id", userID).With("role_id", roleID).Wrap(err)
	}
	return notifyPermissionChanged(ctx, q, "assignment:"+userID)
}

// ListPermissionsForUser returns the union of permission rows across
// every role assigned to the user. The inner join drops assignments
// whose role has been deleted.
func (r *RoleRepository) ListPermissionsForUser(ctx context.Context, userID string) ([]perm.RolePermission, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, `
		SELECT rp.role_id, rp.resource_type, rp.resource_id, rp.permission
		FROM user_role_assignments ura
		JOIN role_permissions rp ON rp.role_id = ura.role_id
		WHERE ura.user_id = $1
		ORDER BY rp.role_id, rp.resource_type, rp.resource_id, rp.permission
	`, userID)
	if err != nil {
		return nil, oops.Code("USER_PERMISSIONS_QUERY_FAILED").With("user_id", userID).Wrap(err)
	}
	return scanRolePermissions(rows)
}

func scanRolePermissions(rows pgx.Rows) ([]perm.RolePermission, error) {
	defer rows.Close()

	perms := make([]perm.RolePermission, 0)
	for rows.Next() {
		var p perm.RolePermission
		var resourceType, permission string
		if err := rows.Scan(&p.RoleID, &resourceType, &p.ResourceID, &permission); err != nil {
			return nil, oops.Code("ROLE_PERMISSION_SCAN_FAILED").Wrap(err)
		}
		p.ResourceType = perm.ResourceType(resourceType)
		p.Permission = perm.Action(permission)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ROLE_PERMISSION_ITERATE_FAILED").Wrap(err)
	}
	return perms, nil
}

// Compile-time interface check.
var _ perm.RoleStore = (*RoleRepository)(nil)
