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

// MembershipRepository reads identity and membership data from
// PostgreSQL. The tables are written by the project administration
// surface; this repository is read-only.
type MembershipRepository struct {
	db DB
}

// NewMembershipRepository creates a PostgreSQL membership repository.
func NewMembershipRepository(db DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// OrgRole returns the user's organization-level role.
func (r *MembershipRepository) OrgRole(ctx context.Context, userID string) (perm.OrgRole, error) {
	var role string
	err := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT org_role FROM org_profiles WHERE user_id = $1
	`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("PROFILE_NOT_FOUND").With("user_id", userID).Wrap(perm.ErrNotFound)
	}
	if err != nil {
		return "", oops.Code("ORG_ROLE_QUERY_FAILED").With("user_id", userID).Wrap(err)
	}
	return perm.OrgRole(role), nil
}

// ProjectRole returns the user's role within a project, or
// ProjectRoleNone when no membership row exists.
func (r *MembershipRepository) ProjectRole(ctx context.Context, projectID, userID string) (perm.ProjectRole, error) {
	var role string
	err := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT role FROM project_users WHERE project_id = $1 AND user_id = $2
	`, projectID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return perm.ProjectRoleNone, nil
	}
	if err != nil {
		return perm.ProjectRoleNone, oops.Code("PROJECT_ROLE_QUERY_FAILED").
			With("project_id", projectID).With("user_id", userID).Wrap(err)
	}
	return perm.ProjectRole(role), nil
}

// ListMembers returns all memberships for a project ordered by user ID.
func (r *MembershipRepository) ListMembers(ctx context.Context, projectID string) ([]perm.Membership, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, `
		SELECT project_id, user_id, role FROM project_users
		WHERE project_id = $1 ORDER BY user_id
	`, projectID)
	if err != nil {
		return nil, oops.Code("MEMBER_QUERY_FAILED").With("project_id", projectID).Wrap(err)
	}
	defer rows.Close()

	members := make([]perm.Membership, 0)
	for rows.Next() {
		var m perm.Membership
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role); err != nil {
			return nil, oops.Code("MEMBER_SCAN_FAILED").Wrap(err)
		}
		m.Role = perm.ProjectRole(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("MEMBER_ITERATE_FAILED").Wrap(err)
	}
	return members, nil
}

// Profile returns display fields for a user.
func (r *MembershipRepository) Profile(ctx context.Context, userID string) (*perm.UserProfile, error) {
	var p perm.UserProfile
	var orgRole string
	err := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT user_id, display_name, org_role FROM org_profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.DisplayName, &orgRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PROFILE_NOT_FOUND").With("user_id", userID).Wrap(perm.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_QUERY_FAILED").With("user_id", userID).Wrap(err)
	}
	p.OrgRole = perm.OrgRole(orgRole)
	return &p, nil
}

// LoadSnapshot loads every org profile and project membership for the
// resolver cache.
func (r *MembershipRepository) LoadSnapshot(ctx context.Context) (*perm.MembershipSnapshot, error) {
	snap := &perm.MembershipSnapshot{
		OrgRoles:     make(map[string]perm.OrgRole),
		ProjectRoles: make(map[string]perm.ProjectRole),
	}

	rows, err := querierFrom(ctx, r.db).Query(ctx, `SELECT user_id, org_role FROM org_profiles`)
	if err != nil {
		return nil, oops.Code("SNAPSHOT_QUERY_FAILED").With("table", "org_profiles").Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, oops.Code("SNAPSHOT_SCAN_FAILED").With("table", "org_profiles").Wrap(err)
		}
		snap.OrgRoles[userID] = perm.OrgRole(role)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SNAPSHOT_ITERATE_FAILED").With("table", "org_profiles").Wrap(err)
	}

	rows, err = querierFrom(ctx, r.db).Query(ctx, `SELECT project_id, user_id, role FROM project_users`)
	if err != nil {
		return nil, oops.Code("SNAPSHOT_QUERY_FAILED").With("table", "project_users").Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var projectID, userID, role string
		if err := rows.Scan(&projectID, &userID, &role); err != nil {
			return nil, oops.Code("SNAPSHOT_SCAN_FAILED").With("table", "project_users").Wrap(err)
		}
		snap.ProjectRoles[projectID+"/"+userID] = perm.ProjectRole(role)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SNAPSHOT_ITERATE_FAILED").With("table", "project_users").Wrap(err)
	}
	return snap, nil
}

// Compile-time interface checks.
var (
	_ perm.MembershipStore = (*MembershipRepository)(nil)
	_ perm.SnapshotLoader  = (*MembershipRepository)(nil)
)
