// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RoleInput is the typed input for role creation and update.
type RoleInput struct {
	OrgID          string
	Name           string
	Description    string
	TopLevelAccess TopLevelAccess
	Grants         []ResourceGrant
}

// Validate rejects inputs that cannot become a well-formed role.
func (in RoleInput) Validate() error {
	if in.OrgID == "" {
		return oops.Code("INVALID_ROLE").New("organization ID cannot be empty")
	}
	if in.Name == "" {
		return oops.Code("INVALID_ROLE").New("role name cannot be empty")
	}
	if !in.TopLevelAccess.Valid() {
		return oops.Code("INVALID_ROLE").
			With("top_level_access", string(in.TopLevelAccess)).
			New("unknown top-level access tier")
	}
	for _, g := range in.Grants {
		if !g.Entity.Valid() {
			return oops.Code("INVALID_ROLE").
				With("entity", string(g.Entity)).
				New("unknown entity type in resource grant")
		}
		for _, a := range g.Permissions {
			if !a.Valid() {
				return oops.Code("INVALID_ROLE").
					With("action", string(a)).
					New("unknown action in resource grant")
			}
		}
	}
	return nil
}

// RolePermissionView is one permission row resolved for display.
type RolePermissionView struct {
	ResourceType ResourceType
	ResourceID   string
	ResourceName string
	Permission   Action
}

// RoleView is a role enriched for the administration UI: creator display
// name and permission rows resolved against the resource catalog.
type RoleView struct {
	Role        Role
	CreatorName string
	Permissions []RolePermissionView
}

// RoleService orchestrates multi-row role writes as single logical
// operations.
type RoleService struct {
	roles       RoleStore
	resources   ResourceStore
	memberships MembershipStore
	notifier    Notifier
}

// NewRoleService creates a RoleService.
func NewRoleService(roles RoleStore, resources ResourceStore, memberships MembershipStore, notifier Notifier) *RoleService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &RoleService{
		roles:       roles,
		resources:   resources,
		memberships: memberships,
		notifier:    notifier,
	}
}

// flattenGrants turns typed resource grants into permission rows, mapping
// the external plural vocabulary to the stored singular taxonomy.
func flattenGrants(roleID string, grants []ResourceGrant) ([]RolePermission, error) {
	var rows []RolePermission
	for _, g := range grants {
		resourceType, err := g.Entity.ResourceType()
		if err != nil {
			return nil, oops.Code("INVALID_ROLE").Wrap(err)
		}
		resourceID := g.ResourceID
		if resourceID == "" {
			resourceID = WildcardResource
		}
		for _, action := range g.Permissions {
			rows = append(rows, RolePermission{
				RoleID:       roleID,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Permission:   action,
			})
		}
	}
	return rows, nil
}

// Create inserts the role, then batch-inserts its flattened permission
// rows. If the batch fails after the role insert succeeded, the role
// persists with zero permissions and the error carries the
// ROLE_PERMISSIONS_PARTIAL code: a recoverable inconsistent state the
// caller should retry via Update, not a fatal error.
func (s *RoleService) Create(ctx context.Context, createdBy string, in RoleInput) (*Role, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	role := &Role{
		ID:             ulid.Make().String(),
		OrgID:          in.OrgID,
		Name:           in.Name,
		Description:    in.Description,
		TopLevelAccess: in.TopLevelAccess,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now().UTC(),
	}

	rows, err := flattenGrants(role.ID, in.Grants)
	if err != nil {
		return nil, err
	}

	if err := s.roles.Create(ctx, role); err != nil {
		s.notifier.Notify(ctx, MsgRoleSaveFailed)
		return nil, oops.Code("ROLE_CREATE_FAILED").With("name", in.Name).Wrap(err)
	}

	if len(rows) > 0 {
		if err := s.roles.InsertPermissions(ctx, role.ID, rows); err != nil {
			s.notifier.Notify(ctx, MsgRoleSaveFailed)
			return role, oops.Code("ROLE_PERMISSIONS_PARTIAL").
				With("role_id", role.ID).
				Wrap(err)
		}
	}
	role.Permissions = rows
	return role, nil
}

// Update applies replace semantics: scalar fields first, then delete all
// existing permission rows and insert the fresh set. The final state
// exactly matches the input with no stale grants; a concurrent reader may
// observe the role with zero permissions mid-operation.
func (s *RoleService) Update(ctx context.Context, roleID string, in RoleInput) (*Role, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return nil, oops.Code("ROLE_UPDATE_FAILED").With("role_id", roleID).Wrap(err)
	}

	role.Name = in.Name
	role.Description = in.Description
	role.TopLevelAccess = in.TopLevelAccess
	role.UpdatedAt = time.Now().UTC()

	rows, err := flattenGrants(roleID, in.Grants)
	if err != nil {
		return nil, err
	}

	if err := s.roles.UpdateFields(ctx, role); err != nil {
		s.notifier.Notify(ctx, MsgRoleSaveFailed)
		return nil, oops.Code("ROLE_UPDATE_FAILED").With("role_id", roleID).Wrap(err)
	}
	if err := s.roles.ReplacePermissions(ctx, roleID, rows); err != nil {
		s.notifier.Notify(ctx, MsgRoleSaveFailed)
		return nil, oops.Code("ROLE_PERMISSIONS_PARTIAL").With("role_id", roleID).Wrap(err)
	}
	role.Permissions = rows
	return role, nil
}

// Delete removes the role. The store cascades permission rows before the
// role row; existing assignments are left in place and become inert.
func (s *RoleService) Delete(ctx context.Context, roleID string) error {
	if err := s.roles.Delete(ctx, roleID); err != nil {
		s.notifier.Notify(ctx, MsgRoleSaveFailed)
		return oops.Code("ROLE_DELETE_FAILED").With("role_id", roleID).Wrap(err)
	}
	return nil
}

// Assign links a user to a role with audit fields.
func (s *RoleService) Assign(ctx context.Context, userID, roleID, assignedBy string) error {
	err := s.roles.Assign(ctx, &UserRoleAssignment{
		ID:         ulid.Make().String(),
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: time.Now().UTC(),
	})
	if err != nil {
		return oops.Code("ROLE_ASSIGN_FAILED").
			With("user_id", userID).With("role_id", roleID).Wrap(err)
	}
	return nil
}

// Unassign removes one user-role link.
func (s *RoleService) Unassign(ctx context.Context, userID, roleID string) error {
	if err := s.roles.Unassign(ctx, userID, roleID); err != nil {
		return oops.Code("ROLE_UNASSIGN_FAILED").
			With("user_id", userID).With("role_id", roleID).Wrap(err)
	}
	return nil
}

// Fetch returns the organization's roles enriched for display. Permission
// rows pointing at resources that no longer exist are labeled
// "Unknown <Type>" rather than omitted, so administrators can spot
// dangling grants. Creator lookups that fail fall back to the raw user ID.
func (s *RoleService) Fetch(ctx context.Context, orgID string) ([]RoleView, error) {
	roles, err := s.roles.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, oops.Code("ROLE_FETCH_FAILED").With("org_id", orgID).Wrap(err)
	}

	views := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		view := RoleView{
			Role:        *role,
			CreatorName: s.creatorName(ctx, role.CreatedBy),
			Permissions: make([]RolePermissionView, 0, len(role.Permissions)),
		}
		for _, p := range role.Permissions {
			view.Permissions = append(view.Permissions, RolePermissionView{
				ResourceType: p.ResourceType,
				ResourceID:   p.ResourceID,
				ResourceName: s.resourceName(ctx, p),
				Permission:   p.Permission,
			})
		}
		sort.Slice(view.Permissions, func(i, j int) bool {
			a, b := view.Permissions[i], view.Permissions[j]
			if a.ResourceType != b.ResourceType {
				return a.ResourceType < b.ResourceType
			}
			if a.ResourceName != b.ResourceName {
				return a.ResourceName < b.ResourceName
			}
			return a.Permission < b.Permission
		})
		views = append(views, view)
	}
	return views, nil
}

// creatorName resolves a display name, falling back to the raw ID.
func (s *RoleService) creatorName(ctx context.Context, userID string) string {
	profile, err := s.memberships.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.WarnContext(ctx, "creator profile lookup failed",
				"user_id", userID, "error", err)
		}
		return userID
	}
	return profile.DisplayName
}

// resourceName resolves a permission row's display label. Wildcard scopes
// read as "All <Type>s"; dangling references as "Unknown <Type>".
func (s *RoleService) resourceName(ctx context.Context, p RolePermission) string {
	if p.ResourceID == WildcardResource {
		return fmt.Sprintf("All %ss", p.ResourceType)
	}
	res, err := s.resources.Get(ctx, p.ResourceID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.WarnContext(ctx, "resource lookup failed",
				"resource_id", p.ResourceID, "error", err)
		}
		return fmt.Sprintf("Unknown %s", p.ResourceType)
	}
	return res.Name
}
