// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import "context"

// MembershipStore supplies identity and membership data. Formworks does
// not own this data; it is written by the project administration surface
// and read here for permission decisions.
type MembershipStore interface {
	// OrgRole returns the user's organization-level role.
	OrgRole(ctx context.Context, userID string) (OrgRole, error)

	// ProjectRole returns the user's role within a project, or
	// ProjectRoleNone when the user has no membership.
	ProjectRole(ctx context.Context, projectID, userID string) (ProjectRole, error)

	// ListMembers returns all memberships for a project.
	ListMembers(ctx context.Context, projectID string) ([]Membership, error)

	// Profile returns display fields for a user.
	// Returns ErrNotFound when the user is unknown.
	Profile(ctx context.Context, userID string) (*UserProfile, error)
}

// TopLevelStore persists the coarse per (project, user, entity type) CRUD
// grants.
type TopLevelStore interface {
	// Get returns the row for (projectID, userID, entity).
	// Returns ErrNotFound when no row exists (which means default-deny).
	Get(ctx context.Context, projectID, userID string, entity EntityType) (*TopLevelPermission, error)

	// Upsert inserts or replaces the row for the permission's key.
	Upsert(ctx context.Context, p *TopLevelPermission) error

	// Delete removes the row. Deleting an absent row is not an error.
	Delete(ctx context.Context, projectID, userID string, entity EntityType) error
}

// AssetStore persists existence-based fine-grained grants.
type AssetStore interface {
	// Upsert inserts the grant if absent. Granting an already-granted
	// permission is a no-op success.
	Upsert(ctx context.Context, p *AssetPermission) error

	// Delete removes one grant. Revoking an absent grant is a no-op.
	Delete(ctx context.Context, projectID, userID string, assetType ResourceType, assetID, permission string) error

	// ListForAsset returns every grant row for one asset.
	ListForAsset(ctx context.Context, projectID string, assetType ResourceType, assetID string) ([]AssetPermission, error)

	// ListForUserAsset returns one user's grant rows for one asset.
	ListForUserAsset(ctx context.Context, projectID, userID string, assetType ResourceType, assetID string) ([]AssetPermission, error)

	// DeleteAllForUserAsset removes every grant a user holds on one asset.
	DeleteAllForUserAsset(ctx context.Context, projectID, userID string, assetType ResourceType, assetID string) error

	// DeleteAllForAsset removes every grant on one asset. Called before
	// the asset itself is deleted so no orphaned grants remain.
	DeleteAllForAsset(ctx context.Context, projectID string, assetType ResourceType, assetID string) error
}

// RoleStore persists roles, their permission rows, and user assignments.
type RoleStore interface {
	// Create inserts the role row only. Permission rows are inserted
	// separately so a failed batch leaves the role with zero permissions
	// rather than failing the whole operation.
	Create(ctx context.Context, role *Role) error

	// Get returns a role with its permission rows.
	// Returns ErrNotFound when the role does not exist.
	Get(ctx context.Context, roleID string) (*Role, error)

	// UpdateFields updates the role's scalar fields.
	UpdateFields(ctx context.Context, role *Role) error

	// InsertPermissions batch-inserts permission rows for a role.
	InsertPermissions(ctx context.Context, roleID string, perms []RolePermission) error

	// ReplacePermissions deletes all existing permission rows for the
	// role and inserts the given set in one transaction.
	ReplacePermissions(ctx context.Context, roleID string, perms []RolePermission) error

	// Delete removes the role's permission rows, then the role row.
	// Existing assignments are left in place and become inert.
	Delete(ctx context.Context, roleID string) error

	// ListByOrg returns all roles in an organization with their
	// permission rows.
	ListByOrg(ctx context.Context, orgID string) ([]*Role, error)

	// Assign links a user to a role with audit fields.
	Assign(ctx context.Context, a *UserRoleAssignment) error

	// Unassign removes one user-role link.
	Unassign(ctx context.Context, userID, roleID string) error

	// ListPermissionsForUser returns the union of permission rows across
	// every role assigned to the user. Assignments pointing at deleted
	// roles contribute nothing.
	ListPermissionsForUser(ctx context.Context, userID string) ([]RolePermission, error)
}

// ResourceStore reads the resource catalog and cascade-deletes resources.
type ResourceStore interface {
	// Get returns one catalog entry.
	// Returns ErrNotFound when the resource does not exist.
	Get(ctx context.Context, id string) (*Resource, error)

	// ListByProject returns all catalog entries for a project.
	ListByProject(ctx context.Context, projectID string) ([]Resource, error)

	// Delete removes the resource after cascade-deleting its asset
	// permission rows, in one transaction.
	Delete(ctx context.Context, id string) error
}
