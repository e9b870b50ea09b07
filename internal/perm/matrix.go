// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PermissionState is one cell of the form access matrix.
type PermissionState struct {
	Granted  bool
	Explicit bool
}

// FormPermissionUser is one row of the form access matrix: a user's
// effective form permissions, computed fresh on every read by overlaying
// explicit asset grants on role-derived defaults. It is never persisted.
type FormPermissionUser struct {
	UserID                 string
	ProjectRole            ProjectRole
	Permissions            map[string]PermissionState
	HasExplicitPermissions bool
}

// MatrixService computes and edits the 12-permission form access matrix.
//
// Every write concludes with a full reload so the caller sees ground
// truth rather than an optimistic patch; the engine trades latency for
// read-after-write consistency within the same client.
type MatrixService struct {
	memberships MembershipStore
	assets      AssetStore
	notifier    Notifier
}

// NewMatrixService creates a MatrixService.
func NewMatrixService(memberships MembershipStore, assets AssetStore, notifier Notifier) *MatrixService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MatrixService{
		memberships: memberships,
		assets:      assets,
		notifier:    notifier,
	}
}

// Load computes the matrix for one form: a row for every project member
// plus every user holding an explicit grant on the form, sorted by user ID
// for stable display.
func (s *MatrixService) Load(ctx context.Context, projectID, formID string) ([]FormPermissionUser, error) {
	members, err := s.memberships.ListMembers(ctx, projectID)
	if err != nil {
		return nil, oops.Code("MATRIX_LOAD_FAILED").
			With("project_id", projectID).With("form_id", formID).Wrap(err)
	}

	grants, err := s.assets.ListForAsset(ctx, projectID, ResourceForm, formID)
	if err != nil {
		return nil, oops.Code("MATRIX_LOAD_FAILED").
			With("project_id", projectID).With("form_id", formID).Wrap(err)
	}

	roleByUser := make(map[string]ProjectRole, len(members))
	for _, m := range members {
		roleByUser[m.UserID] = m.Role
	}

	grantsByUser := make(map[string][]AssetPermission)
	for _, g := range grants {
		grantsByUser[g.UserID] = append(grantsByUser[g.UserID], g)
	}
	// Users with explicit grants but no membership still get a row, with
	// all role defaults false.
	for userID := range grantsByUser {
		if _, ok := roleByUser[userID]; !ok {
			roleByUser[userID] = ProjectRoleNone
		}
	}

	rows := make([]FormPermissionUser, 0, len(roleByUser))
	for userID, role := range roleByUser {
		rows = append(rows, buildMatrixRow(userID, role, grantsByUser[userID]))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows, nil
}

// buildMatrixRow overlays explicit grants on role defaults. Explicit rows
// are purely additive: a present row forces granted regardless of the
// default, and there is no explicit-deny row type.
func buildMatrixRow(userID string, role ProjectRole, grants []AssetPermission) FormPermissionUser {
	explicit := make(map[string]bool, len(grants))
	for _, g := range grants {
		explicit[g.Permission] = true
	}

	row := FormPermissionUser{
		UserID:      userID,
		ProjectRole: role,
		Permissions: make(map[string]PermissionState, 12),
	}
	for _, permission := range formPermissionOrder {
		state := PermissionState{Granted: RoleDefaultGrants(role, permission)}
		if explicit[permission] {
			state.Granted = true
			state.Explicit = true
			row.HasExplicitPermissions = true
		}
		row.Permissions[permission] = state
	}
	return row
}

// Grant upserts one explicit permission row and reloads the matrix.
// Granting an already-granted permission is a no-op success.
func (s *MatrixService) Grant(ctx context.Context, projectID, formID, userID, permission string) ([]FormPermissionUser, error) {
	if !ValidFormPermission(permission) {
		return nil, oops.Code("INVALID_FORM_PERMISSION").
			With("permission", permission).
			Errorf("permission is not in the form catalog")
	}

	err := s.assets.Upsert(ctx, &AssetPermission{
		ID:         ulid.Make().String(),
		ProjectID:  projectID,
		UserID:     userID,
		AssetType:  ResourceForm,
		AssetID:    formID,
		Permission: permission,
		GrantedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.notifier.Notify(ctx, MsgGrantFailed)
		return nil, oops.Code("GRANT_FAILED").
			With("form_id", formID).With("user_id", userID).
			With("permission", permission).Wrap(err)
	}
	return s.Load(ctx, projectID, formID)
}

// Revoke deletes one explicit permission row and reloads the matrix.
// Revoking an absent permission is a no-op success; revocation only
// changes the effective grant when the role default would not grant it.
func (s *MatrixService) Revoke(ctx context.Context, projectID, formID, userID, permission string) ([]FormPermissionUser, error) {
	if !ValidFormPermission(permission) {
		return nil, oops.Code("INVALID_FORM_PERMISSION").
			With("permission", permission).
			Errorf("permission is not in the form catalog")
	}

	err := s.assets.Delete(ctx, projectID, userID, ResourceForm, formID, permission)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.notifier.Notify(ctx, MsgRevokeFailed)
		return nil, oops.Code("REVOKE_FAILED").
			With("form_id", formID).With("user_id", userID).
			With("permission", permission).Wrap(err)
	}
	return s.Load(ctx, projectID, formID)
}

// BulkUpdate applies a grant/revoke map to several users. Writes are
// issued sequentially to bound store load; there is no rollback. A
// partial failure surfaces one aggregate error and the returned matrix
// reflects exactly the writes that succeeded.
func (s *MatrixService) BulkUpdate(ctx context.Context, projectID, formID string, userIDs []string, changes map[string]bool) ([]FormPermissionUser, error) {
	for permission := range changes {
		if !ValidFormPermission(permission) {
			return nil, oops.Code("INVALID_FORM_PERMISSION").
				With("permission", permission).
				Errorf("permission is not in the form catalog")
		}
	}

	// Iterate the catalog order rather than the map for deterministic
	// write order.
	var writeErrs []error
	for _, userID := range userIDs {
		for _, permission := range formPermissionOrder {
			grant, ok := changes[permission]
			if !ok {
				continue
			}
			var err error
			if grant {
				err = s.assets.Upsert(ctx, &AssetPermission{
					ID:         ulid.Make().String(),
					ProjectID:  projectID,
					UserID:     userID,
					AssetType:  ResourceForm,
					AssetID:    formID,
					Permission: permission,
					GrantedAt:  time.Now().UTC(),
				})
			} else {
				err = s.assets.Delete(ctx, projectID, userID, ResourceForm, formID, permission)
				if errors.Is(err, ErrNotFound) {
					err = nil
				}
			}
			if err != nil {
				writeErrs = append(writeErrs, oops.
					With("user_id", userID).With("permission", permission).
					Wrap(err))
			}
		}
	}

	rows, loadErr := s.Load(ctx, projectID, formID)
	if len(writeErrs) > 0 {
		s.notifier.Notify(ctx, MsgBulkUpdateFailed)
		return rows, oops.Code("BULK_UPDATE_PARTIAL").
			With("form_id", formID).
			With("failed_writes", len(writeErrs)).
			Wrap(errors.Join(writeErrs...))
	}
	return rows, loadErr
}
