// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/formworks/formworks/internal/perm/audit"
)

// ResolverConfig holds dependencies for Resolver.
type ResolverConfig struct {
	Memberships MembershipStore
	TopLevel    TopLevelStore
	Roles       RoleStore
	Notifier    Notifier
	Audit       *audit.Logger // optional; nil disables decision audit
}

// Resolver answers permission checks by walking a fixed source chain:
// admin bypass, then role-grant read widening, then the top-level CRUD
// gate. The first non-abstain verdict wins; an exhausted chain denies.
//
// Resolver methods never return errors. A store failure inside a source is
// logged and counted, and the affected link abstains, so infrastructure
// outages degrade to default-deny.
type Resolver struct {
	sources     []Source
	memberships MembershipStore
	topLevel    TopLevelStore
	roles       RoleStore
	notifier    Notifier
	audit       *audit.Logger
}

// NewResolver creates a Resolver. The chain order is fixed at
// construction; admin bypass is always the first link.
func NewResolver(cfg ResolverConfig) *Resolver {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Resolver{
		sources: []Source{
			NewAdminBypassSource(cfg.Memberships),
			NewRoleGrantSource(cfg.Roles),
			NewTopLevelSource(cfg.TopLevel),
		},
		memberships: cfg.Memberships,
		topLevel:    cfg.TopLevel,
		roles:       cfg.Roles,
		notifier:    notifier,
		audit:       cfg.Audit,
	}
}

// Resolve walks the source chain and returns the decision with provenance.
func (r *Resolver) Resolve(ctx context.Context, req Request) Decision {
	start := time.Now()

	if err := req.Validate(); err != nil {
		slog.WarnContext(ctx, "malformed permission request", "error", err)
		decision := deniedDecision("invalid_request")
		r.finish(ctx, req, decision, start)
		return decision
	}

	for _, source := range r.sources {
		verdict, err := source.Resolve(ctx, req)
		if err != nil {
			// Fail closed: the link abstains and the chain continues.
			sourceErrorsTotal.WithLabelValues(source.Name()).Inc()
			slog.WarnContext(ctx, "permission source failed",
				"source", source.Name(),
				"project_id", req.ProjectID,
				"user_id", req.UserID,
				"error", err)
		}
		if verdict == VerdictAbstain {
			continue
		}
		decision := Decision{
			Allowed: verdict == VerdictAllow,
			Verdict: verdict,
			Source:  source.Name(),
		}
		r.finish(ctx, req, decision, start)
		return decision
	}

	decision := deniedDecision("default")
	r.finish(ctx, req, decision, start)
	return decision
}

// HasPermission reports whether the request is allowed.
func (r *Resolver) HasPermission(ctx context.Context, req Request) bool {
	return r.Resolve(ctx, req).Allowed
}

// Check is HasPermission with the UI alert contract: a denied check emits
// exactly one notification so a bypassed disabled control is still
// rejected assertively.
func (r *Resolver) Check(ctx context.Context, req Request) bool {
	if r.HasPermission(ctx, req) {
		return true
	}
	r.notifier.Notify(ctx, MsgPermissionDenied)
	return false
}

// ButtonState describes how a UI control gated on a permission should
// render.
type ButtonState struct {
	Disabled bool
	Tooltip  string
}

// ButtonState returns the disabled/tooltip pair for a gated control.
func (r *Resolver) ButtonState(ctx context.Context, req Request) ButtonState {
	if r.HasPermission(ctx, req) {
		return ButtonState{}
	}
	return ButtonState{Disabled: true, Tooltip: MsgPermissionDenied}
}

// VisibleResources filters items down to those the user may read.
// Membership, the top-level read flag, and role grants are each resolved
// once, so the filter is O(n) in the list length. The result is exactly
// the subset for which HasPermission would allow a read of that item.
func (r *Resolver) VisibleResources(ctx context.Context, projectID, userID string, entity EntityType, items []Resource) []Resource {
	if r.isAdmin(ctx, projectID, userID) {
		out := make([]Resource, len(items))
		copy(out, items)
		return out
	}

	topRead := r.topLevelRead(ctx, projectID, userID, entity)
	if topRead {
		out := make([]Resource, len(items))
		copy(out, items)
		return out
	}

	resourceType, err := entity.ResourceType()
	if err != nil {
		slog.WarnContext(ctx, "visibility filter for unknown entity type",
			"entity", string(entity))
		return []Resource{}
	}

	grants, err := r.roles.ListPermissionsForUser(ctx, userID)
	if err != nil {
		sourceErrorsTotal.WithLabelValues("role_grant").Inc()
		slog.WarnContext(ctx, "role grant lookup failed for visibility filter",
			"user_id", userID, "error", err)
		return []Resource{}
	}

	visible := make([]Resource, 0, len(items))
	for _, item := range items {
		if matchesGrant(grants, resourceType, ActionRead, item.ID) {
			visible = append(visible, item)
		}
	}
	return visible
}

// isAdmin resolves the admin bypass once. Store failures read as
// not-admin.
func (r *Resolver) isAdmin(ctx context.Context, projectID, userID string) bool {
	orgRole, err := r.memberships.OrgRole(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		sourceErrorsTotal.WithLabelValues("admin_bypass").Inc()
		slog.WarnContext(ctx, "org role lookup failed", "user_id", userID, "error", err)
	}
	if orgRole == OrgRoleAdmin {
		return true
	}
	projectRole, err := r.memberships.ProjectRole(ctx, projectID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		sourceErrorsTotal.WithLabelValues("admin_bypass").Inc()
		slog.WarnContext(ctx, "project role lookup failed",
			"project_id", projectID, "user_id", userID, "error", err)
	}
	return projectRole == ProjectRoleAdmin
}

// topLevelRead resolves the coarse read flag once. Absent rows and store
// failures both read as false.
func (r *Resolver) topLevelRead(ctx context.Context, projectID, userID string, entity EntityType) bool {
	row, err := r.topLevel.Get(ctx, projectID, userID, entity)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		sourceErrorsTotal.WithLabelValues("top_level").Inc()
		slog.WarnContext(ctx, "top-level permission lookup failed",
			"project_id", projectID, "user_id", userID, "error", err)
		return false
	}
	return row.CanRead
}

// finish records metrics and offers the decision for audit.
func (r *Resolver) finish(ctx context.Context, req Request, decision Decision, start time.Time) {
	elapsed := time.Since(start)
	recordDecisionMetrics(elapsed, decision.Source, decision.Verdict)
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, audit.Entry{
		ProjectID:  req.ProjectID,
		UserID:     req.UserID,
		Entity:     string(req.Entity),
		Action:     string(req.Action),
		ResourceID: req.ResourceID,
		Verdict:    decision.Verdict.String(),
		Source:     decision.Source,
		DurationUS: elapsed.Microseconds(),
		Timestamp:  time.Now(),
	})
}
