// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/formworks/formworks/internal/perm"
)

// AssetRepository persists existence-based fine-grained grants. A grant
// is a row; revocation is row deletion. There is no deny row.
type AssetRepository struct {
	db DB
}

// NewAssetRepository creates a PostgreSQL asset permission repository.
func NewAssetRepository(db DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Upsert inserts the grant if absent. A duplicate grant is a no-op
// success so Grant stays idempotent under concurrent clicks.
func (r *AssetRepository) Upsert(ctx context.Context, p *perm.AssetPermission) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		INSERT INTO asset_permissions
			(id, project_id, user_id, asset_type, asset_id, permission, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, user_id, asset_type, asset_id, permission) DO NOTHING
	`, p.ID, p.ProjectID, p.UserID, string(p.AssetType), p.AssetID,
		p.Permission, p.GrantedBy, p.GrantedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil
		}
		return oops.Code("ASSET_GRANT_FAILED").
			With("user_id", p.UserID).With("asset_id", p.AssetID).
			With("permission", p.Permission).Wrap(err)
	}
	if err := notifyPermissionChanged(ctx, q, "asset:"+p.AssetID); err != nil {
		return oops.Code("ASSET_GRANT_FAILED").
			With("operation", "notify").With("asset_id", p.AssetID).Wrap(err)
	}
	return nil
}

// Delete removes one grant. Revoking an absent grant is a no-op.
func (r *AssetRepository) Delete(ctx context.Context, projectID, userID string, assetType perm.ResourceType, assetID, permission string) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		DELETE FROM asset_permissions
		WHERE project_id = $1 AND user_id = $2 AND asset_type = $3
		  AND asset_id = $4 AND permission = $5
	`, projectID, userID, string(assetType), assetID, permission)
	if err != nil {
		return oops.Code("ASSET_REVOKE_FAILED").
			With("user_id", userID).With("asset_id", assetID).
			With("permission", permission).Wrap(err)
	}
	if err := notifyPermissionChanged(ctx, q, "asset:"+assetID); err != nil {
		return oops.Code("ASSET_REVOKE_FAILED").
			With("operation", "notify").With("asset_id", assetID).Wrap(err)
	}
	return nil
}

// ListForAsset returns every grant row for one asset ordered by user and
// permission, which keeps the access matrix stable between loads.
func (r *AssetRepository) ListForAsset(ctx context.Context, projectID string, assetType perm.ResourceType, assetID string) ([]perm.AssetPermission, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, `
		SELECT id, project_id, user_id, asset_type, asset_id, permission, granted_by, granted_at
		FROM asset_permissions
		WHERE project_id = $1 AND asset_type = $2 AND asset_id = $3
		ORDER BY user_id, permission
	`, projectID, string(assetType), assetID)
	if err != nil {
		return nil, oops.Code("ASSET_QUERY_FAILED").With("asset_id", assetID).Wrap(err)
	}
	return scanAssetPermissions(rows)
}

// ListForUserAsset returns one user's grant rows for one asset.
func (r *AssetRepository) ListForUserAsset(ctx context.Context, projectID, userID string, assetType perm.ResourceType, assetID string) ([]perm.AssetPermission, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, `
		SELECT id, project_id, user_id, asset_type, asset_id, permission, granted_by, granted_at
		FROM asset_permissions
		WHERE project_id = $1 AND user_id = $2 AND asset_type = $3 AND asset_id = $4
		ORDER BY permission
	`, projectID, userID, string(assetType), assetID)
	if err != nil {
		return nil, oops.Code("ASSET_QUERY_FAILED").
			With("user_id", userID).With("asset_id", assetID).Wrap(err)
	}
	return scanAssetPermissions(rows)
}

// DeleteAllForUserAsset removes every grant a user holds on one asset.
func (r *AssetRepository) DeleteAllForUserAsset(ctx context.Context, projectID, userID string, assetType perm.ResourceType, assetID string) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		DELETE FROM asset_permissions
		WHERE project_id = $1 AND user_id = $2 AND asset_type = $3 AND asset_id = $4
	`, projectID, userID, string(assetType), assetID)
	if err != nil {
		return oops.Code("ASSET_REVOKE_FAILED").
			With("user_id", userID).With("asset_id", assetID).Wrap(err)
	}
	if err := notifyPermissionChanged(ctx, q, "asset:"+assetID); err != nil {
		return oops.Code("ASSET_REVOKE_FAILED").
			With("operation", "notify").With("asset_id", assetID).Wrap(err)
	}
	return nil
}

// DeleteAllForAsset removes every grant on one asset. Called before the
// asset itself is deleted so no orphaned grants remain.
func (r *AssetRepository) DeleteAllForAsset(ctx context.Context, projectID string, assetType perm.ResourceType, assetID string) error {
	q := querierFrom(ctx, r.db)
	_, err := q.Exec(ctx, `
		DELETE FROM asset_permissions
		WHERE project_id = $1 AND asset_type = $2 AND asset_id = $3
	`, projectID, string(assetType), assetID)
	if err != nil {
		return oops.Code("ASSET_CASCADE_FAILED").With("asset_id", assetID).Wrap(err)
	}
	if err := notifyPermissionChanged(ctx, q, "asset:"+assetID); err != nil {
		return oops.Code("ASSET_CASCADE_FAILED").
			With("operation", "notify").With("asset_id", assetID).Wrap(err)
	}
	return nil
}

func scanAssetPermissions(rows pgx.Rows) ([]perm.AssetPermission, error) {
	defer rows.Close()

	perms := make([]perm.AssetPermission, 0)
	for rows.Next() {
		var p perm.AssetPermission
		var assetType string
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.UserID, &assetType,
			&p.AssetID, &p.Permission, &p.GrantedBy, &p.GrantedAt); err != nil {
			return nil, oops.Code("ASSET_SCAN_FAILED").Wrap(err)
		}
		p.AssetType = perm.ResourceType(assetType)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ASSET_ITERATE_FAILED").Wrap(err)
	}
	return perms, nil
}

// Compile-time interface check.
var _ perm.AssetStore = (*AssetRepository)(nil)
