// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gobwas/glob"
)

// Source is one link in the permission resolution chain. The resolver
// walks the chain in order and takes the first non-abstain verdict.
//
// A source that cannot reach its backing store must return VerdictAbstain
// together with the error: the resolver logs the failure and falls
// through, so an outage degrades to default-deny rather than a crash.
type Source interface {
	// Name identifies the source in decisions, metrics, and audit entries.
	Name() string

	Resolve(ctx context.Context, req Request) (Verdict, error)
}

// adminBypassSource allows everything for org admins and project admins.
// It is pinned first in the chain and never denies.
type adminBypassSource struct {
	memberships MembershipStore
}

// NewAdminBypassSource creates the admin bypass chain link.
func NewAdminBypassSource(memberships MembershipStore) Source {
	return &adminBypassSource{memberships: memberships}
}

func (s *adminBypassSource) Name() string { return "admin_bypass" }

func (s *adminBypassSource) Resolve(ctx context.Context, req Request) (Verdict, error) {
	orgRole, err := s.memberships.OrgRole(ctx, req.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return VerdictAbstain, err
	}
	if orgRole == OrgRoleAdmin {
		return VerdictAllow, nil
	}

	projectRole, err := s.memberships.ProjectRole(ctx, req.ProjectID, req.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return VerdictAbstain, err
	}
	if projectRole == ProjectRoleAdmin {
		return VerdictAllow, nil
	}
	return VerdictAbstain, nil
}

// roleGrantSource widens instance-scoped read visibility: a role-derived
// read grant on a specific resource allows reading that resource even when
// the top-level gate would deny. It abstains for every other shape of
// request, so role grants never substitute for a missing top-level grant
// on create, update, or delete.
type roleGrantSource struct {
	roles RoleStore
}

// NewRoleGrantSource creates the role grant widening chain link.
func NewRoleGrantSource(roles RoleStore) Source {
	return &roleGrantSource{roles: roles}
}

func (s *roleGrantSource) Name() string { return "role_grant" }

func (s *roleGrantSource) Resolve(ctx context.Context, req Request) (Verdict, error) {
	if req.Action != ActionRead || req.ResourceID == "" {
		return VerdictAbstain, nil
	}
	resourceType, err := req.Entity.ResourceType()
	if err != nil {
		return VerdictAbstain, nil
	}

	grants, err := s.roles.ListPermissionsForUser(ctx, req.UserID)
	if err != nil {
		return VerdictAbstain, err
	}
	if matchesGrant(grants, resourceType, ActionRead, req.ResourceID) {
		return VerdictAllow, nil
	}
	return VerdictAbstain, nil
}

// matchesGrant reports whether any grant row covers (resourceType, action,
// resourceID). ResourceID scopes may be exact IDs or glob patterns such as
// the "*" wildcard.
func matchesGrant(grants []RolePermission, resourceType ResourceType, action Action, resourceID string) bool {
	for _, g := range grants {
		if g.ResourceType != resourceType || g.Permission != action {
			continue
		}
		if g.ResourceID == resourceID || g.ResourceID == WildcardResource {
			return true
		}
		pattern, err := glob.Compile(g.ResourceID)
		if err != nil {
			// A malformed scope denies nothing; it just never matches.
			slog.Debug("skipping malformed role grant scope",
				"role_id", g.RoleID,
				"scope", g.ResourceID,
				"error", err)
			continue
		}
		if pattern.Match(resourceID) {
			return true
		}
	}
	return false
}

// topLevelSource is the terminal CRUD gate. A present row answers with its
// boolean flag; an absent row is a hard deny, never a fallthrough to
// coarser defaults.
type topLevelSource struct {
	store TopLevelStore
}

// NewTopLevelSource creates the top-level CRUD gate chain link.
func NewTopLevelSource(store TopLevelStore) Source {
	return &topLevelSource{store: store}
}

func (s *topLevelSource) Name() string { return "top_level" }

func (s *topLevelSource) Resolve(ctx context.Context, req Request) (Verdict, error) {
	row, err := s.store.Get(ctx, req.ProjectID, req.UserID, req.Entity)
	if errors.Is(err, ErrNotFound) {
		return VerdictDeny, nil
	}
	if err != nil {
		return VerdictAbstain, err
	}
	if row.Allows(req.Action) {
		return VerdictAllow, nil
	}
	return VerdictDeny, nil
}
