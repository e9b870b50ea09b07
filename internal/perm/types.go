// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

// Package perm implements the layered permission model for Formworks.
//
// A decision for a (user, project, entity type, resource, action) tuple is
// produced by walking an ordered chain of permission sources: the admin
// bypass is always consulted first, then the coarse top-level CRUD grants.
// Fine-grained per-resource grants (the form access matrix and report ACLs)
// layer on top of the CRUD gate but never substitute for it.
package perm

import "fmt"

// OrgRole is a user's organization-level role.
type OrgRole string

// Organization roles.
const (
	OrgRoleAdmin  OrgRole = "org_admin"
	OrgRoleMember OrgRole = "member"
)

// ProjectRole is a user's membership role within a single project.
// The zero value means the user has no membership.
type ProjectRole string

// Project membership roles.
const (
	ProjectRoleNone   ProjectRole = ""
	ProjectRoleAdmin  ProjectRole = "admin"
	ProjectRoleEditor ProjectRole = "editor"
	ProjectRoleViewer ProjectRole = "viewer"
)

// EntityType is the external (plural) vocabulary used by callers for
// coarse CRUD checks.
type EntityType string

// Entity types gated by top-level permissions.
const (
	EntityForms     EntityType = "forms"
	EntityWorkflows EntityType = "workflows"
	EntityReports   EntityType = "reports"
)

// ResourceType is the stored (singular) taxonomy used by RolePermission
// and AssetPermission rows.
type ResourceType string

// Stored resource types.
const (
	ResourceProject  ResourceType = "project"
	ResourceForm     ResourceType = "form"
	ResourceWorkflow ResourceType = "workflow"
	ResourceReport   ResourceType = "report"
)

// entityToResource maps the external plural vocabulary to the stored
// singular taxonomy.
var entityToResource = map[EntityType]ResourceType{
	EntityForms:     ResourceForm,
	EntityWorkflows: ResourceWorkflow,
	EntityReports:   ResourceReport,
}

// ResourceType returns the stored taxonomy name for this entity type.
func (e EntityType) ResourceType() (ResourceType, error) {
	rt, ok := entityToResource[e]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", string(e))
	}
	return rt, nil
}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	_, ok := entityToResource[e]
	return ok
}

// Action is a coarse CRUD action.
type Action string

// CRUD actions.
const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Verdict is the outcome contributed by a single permission source.
type Verdict int

// Verdict values. A source that has no opinion returns VerdictAbstain and
// the resolver moves to the next source in the chain.
const (
	VerdictAbstain Verdict = iota // abstain
	VerdictAllow                  // allow
	VerdictDeny                   // deny
)

var verdictStrings = [...]string{
	"abstain",
	"allow",
	"deny",
}

func (v Verdict) String() string {
	if v >= 0 && int(v) < len(verdictStrings) {
		return verdictStrings[v]
	}
	return fmt.Sprintf("unknown(%d)", int(v))
}

// Request identifies one permission check. ProjectID is always explicit;
// security decisions never rely on ambient state.
type Request struct {
	ProjectID  string
	UserID     string
	Entity     EntityType
	Action     Action
	ResourceID string // optional; empty for type-level checks
}

// Validate rejects requests with missing or unknown fields.
func (r Request) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("permission request: project ID must not be empty")
	}
	if r.UserID == "" {
		return fmt.Errorf("permission request: user ID must not be empty")
	}
	if !r.Entity.Valid() {
		return fmt.Errorf("permission request: unknown entity type %q", string(r.Entity))
	}
	if !r.Action.Valid() {
		return fmt.Errorf("permission request: unknown action %q", string(r.Action))
	}
	return nil
}

// Decision is the resolved outcome of a permission check, with provenance
// for the UI: Source names the chain link that produced the verdict and
// Explicit marks decisions backed by a per-resource grant row.
type Decision struct {
	Allowed  bool
	Verdict  Verdict
	Source   string
	Explicit bool
}

// deniedDecision is the fail-closed decision used when no source yields a
// verdict or when a request is malformed.
func deniedDecision(source string) Decision {
	return Decision{Allowed: false, Verdict: VerdictDeny, Source: source}
}
