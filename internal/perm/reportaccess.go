// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AccessLevel is the coarse ACL tier used for reports and other simple
// assets that do not need the full form permission matrix.
type AccessLevel string

// Access levels, ordered from weakest to strongest.
const (
	AccessLevelView  AccessLevel = "view"
	AccessLevelEdit  AccessLevel = "edit"
	AccessLevelAdmin AccessLevel = "admin"
)

// Asset permission identifiers backing the coarse levels.
const (
	assetPermView   = "view"
	assetPermEdit   = "edit"
	assetPermDelete = "delete"
	assetPermShare  = "share"
)

// levelPermissions maps a level to the full set of rows it implies.
var levelPermissions = map[AccessLevel][]string{
	AccessLevelView:  {assetPermView},
	AccessLevelEdit:  {assetPermView, assetPermEdit},
	AccessLevelAdmin: {assetPermView, assetPermEdit, assetPermDelete, assetPermShare},
}

// AccessService manages the simplified per-asset ACL used for reports.
type AccessService struct {
	assets    AssetStore
	assetType ResourceType
	notifier  Notifier
}

// NewReportAccessService creates an AccessService scoped to reports.
func NewReportAccessService(assets AssetStore, notifier Notifier) *AccessService {
	return NewAccessService(assets, ResourceReport, notifier)
}

// NewAccessService creates an AccessService for any asset type that uses
// coarse access levels.
func NewAccessService(assets AssetStore, assetType ResourceType, notifier Notifier) *AccessService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &AccessService{assets: assets, assetType: assetType, notifier: notifier}
}

// GrantAccess replaces the user's rows for the asset with the level's
// set. Level changes are full replacements, never incremental edits, so
// an upgrade or downgrade leaves no orphaned rows from a previous level.
func (s *AccessService) GrantAccess(ctx context.Context, projectID, assetID, userID string, level AccessLevel) error {
	perms, ok := levelPermissions[level]
	if !ok {
		return oops.Code("INVALID_ACCESS_LEVEL").
			With("level", string(level)).
			Errorf("unknown access level")
	}

	if err := s.assets.DeleteAllForUserAsset(ctx, projectID, userID, s.assetType, assetID); err != nil {
		s.notifier.Notify(ctx, MsgAccessFailed)
		return oops.Code("ACCESS_GRANT_FAILED").
			With("asset_id", assetID).With("user_id", userID).Wrap(err)
	}
	now := time.Now().UTC()
	for _, permission := range perms {
		err := s.assets.Upsert(ctx, &AssetPermission{
			ID:         ulid.Make().String(),
			ProjectID:  projectID,
			UserID:     userID,
			AssetType:  s.assetType,
			AssetID:    assetID,
			Permission: permission,
			GrantedAt:  now,
		})
		if err != nil {
			s.notifier.Notify(ctx, MsgAccessFailed)
			return oops.Code("ACCESS_GRANT_FAILED").
				With("asset_id", assetID).With("user_id", userID).
				With("permission", permission).Wrap(err)
		}
	}
	return nil
}

// RevokeAccess removes every row the user holds on the asset.
func (s *AccessService) RevokeAccess(ctx context.Context, projectID, assetID, userID string) error {
	if err := s.assets.DeleteAllForUserAsset(ctx, projectID, userID, s.assetType, assetID); err != nil {
		s.notifier.Notify(ctx, MsgAccessFailed)
		return oops.Code("ACCESS_REVOKE_FAILED").
			With("asset_id", assetID).With("user_id", userID).Wrap(err)
	}
	return nil
}

// CheckUserAccess derives the highest level implied by the user's rows:
// delete or share implies admin, else edit implies edit, else view implies
// view. The second return is false when the user holds no rows.
func (s *AccessService) CheckUserAccess(ctx context.Context, projectID, assetID, userID string) (AccessLevel, bool, error) {
	rows, err := s.assets.ListForUserAsset(ctx, projectID, userID, s.assetType, assetID)
	if err != nil {
		return "", false, oops.Code("ACCESS_CHECK_FAILED").
			With("asset_id", assetID).With("user_id", userID).Wrap(err)
	}

	var hasView, hasEdit, hasAdmin bool
	for _, row := range rows {
		switch row.Permission {
		case assetPermDelete, assetPermShare:
			hasAdmin = true
		case assetPermEdit:
			hasEdit = true
		case assetPermView:
			hasView = true
		}
	}
	switch {
	case hasAdmin:
		return AccessLevelAdmin, true, nil
	case hasEdit:
		return AccessLevelEdit, true, nil
	case hasView:
		return AccessLevelView, true, nil
	}
	return "", false, nil
}
