// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import "time"

// TopLevelAccess is the default posture a role applies when no more
// specific grant exists.
type TopLevelAccess string

// Top-level access tiers.
const (
	AccessCreator  TopLevelAccess = "creator"
	AccessEditor   TopLevelAccess = "editor"
	AccessViewer   TopLevelAccess = "viewer"
	AccessNoAccess TopLevelAccess = "no_access"
)

// Valid reports whether t is a known access tier.
func (t TopLevelAccess) Valid() bool {
	switch t {
	case AccessCreator, AccessEditor, AccessViewer, AccessNoAccess:
		return true
	}
	return false
}

// Role is an organization-scoped, named bundle of resource permission
// grants plus a default access tier. Roles are updated with replace
// semantics: every update deletes and reinserts the full permission set.
type Role struct {
	ID             string
	OrgID          string
	Name           string
	Description    string
	TopLevelAccess TopLevelAccess
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Permissions    []RolePermission
}

// RolePermission grants one action on one resource scope to a role.
// ResourceID may be a specific instance ID or the wildcard "*".
// Duplicate rows are tolerated as redundant grants.
type RolePermission struct {
	RoleID       string
	ResourceType ResourceType
	ResourceID   string
	Permission   Action
}

// WildcardResource matches every resource of the row's type.
const WildcardResource = "*"

// ResourceGrant is the typed input for role creation and update: one
// resource scope with the actions granted on it.
type ResourceGrant struct {
	Entity      EntityType
	ResourceID  string
	Permissions []Action
}

// UserRoleAssignment links a user to a role. A user may hold several
// assignments; effective permissions are the union across all of them.
// Assignments are never cascade-deleted with their role; they simply stop
// resolving to any permission.
type UserRoleAssignment struct {
	ID         string
	UserID     string
	RoleID     string
	AssignedBy string
	AssignedAt time.Time
}

// TopLevelPermission is the coarse per (project, user, entity type) CRUD
// gate. Absence of a row means default-deny for that entity type unless
// the user is an admin.
type TopLevelPermission struct {
	ProjectID string
	UserID    string
	Entity    EntityType
	CanCreate bool
	CanRead   bool
	CanUpdate bool
	CanDelete bool
}

// Allows returns the boolean flag matching the given action.
func (t TopLevelPermission) Allows(action Action) bool {
	switch action {
	case ActionCreate:
		return t.CanCreate
	case ActionRead:
		return t.CanRead
	case ActionUpdate:
		return t.CanUpdate
	case ActionDelete:
		return t.CanDelete
	}
	return false
}

// AssetPermission is an existence-based grant of one named permission to
// one user on one specific resource instance. There is no revoked state;
// absence means not granted.
type AssetPermission struct {
	ID         string
	ProjectID  string
	UserID     string
	AssetType  ResourceType
	AssetID    string
	Permission string
	GrantedBy  string
	GrantedAt  time.Time
}

// Membership is a user's role within one project.
type Membership struct {
	ProjectID string
	UserID    string
	Role      ProjectRole
}

// Resource is a catalog entry for a form, workflow, report, or project.
// The role administration view resolves RolePermission rows against this
// catalog for display.
type Resource struct {
	ID        string
	ProjectID string
	Type      ResourceType
	Name      string
}

// UserProfile carries the display fields the role view needs.
type UserProfile struct {
	UserID      string
	DisplayName string
	OrgRole     OrgRole
}
