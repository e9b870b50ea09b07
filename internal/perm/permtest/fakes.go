// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

// Package permtest provides in-memory store fakes for permission tests.
package permtest

import (
	"context"
	"sort"
	"sync"

	"github.com/formworks/formworks/internal/perm"
)

// MembershipMap is a MembershipStore backed by maps. A zero Err makes
// every call succeed; a non-nil Err is returned from every method to
// exercise fail-closed paths.
type MembershipMap struct {
	mu       sync.Mutex
	OrgRoles map[string]perm.OrgRole     // userID → org role
	Roles    map[string]perm.ProjectRole // projectID + "/" + userID → role
	Profiles map[string]perm.UserProfile // userID → profile
	Err      error
}

// NewMembershipMap creates an empty membership fake.
func NewMembershipMap() *MembershipMap {
	return &MembershipMap{
		OrgRoles: make(map[string]perm.OrgRole),
		Roles:    make(map[string]perm.ProjectRole),
		Profiles: make(map[string]perm.UserProfile),
	}
}

// SetOrgRole records a user's organization role.
func (m *MembershipMap) SetOrgRole(userID string, role perm.OrgRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrgRoles[userID] = role
}

// SetProjectRole records a user's project membership.
func (m *MembershipMap) SetProjectRole(projectID, userID string, role perm.ProjectRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Roles[projectID+"/"+userID] = role
}

// SetProfile records a user's display profile.
func (m *MembershipMap) SetProfile(p perm.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Profiles[p.UserID] = p
}

// OrgRole implements perm.MembershipStore.
func (m *MembershipMap) OrgRole(_ context.Context, userID string) (perm.OrgRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	role, ok := m.OrgRoles[userID]
	if !ok {
		return "", perm.ErrNotFound
	}
	return role, nil
}

// ProjectRole implements perm.MembershipStore.
func (m *MembershipMap) ProjectRole(_ context.Context, projectID, userID string) (perm.ProjectRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return perm.ProjectRoleNone, m.Err
	}
	return m.Roles[projectID+"/"+userID], nil
}

// ListMembers implements perm.MembershipStore.
func (m *MembershipMap) ListMembers(_ context.Context, projectID string) ([]perm.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	members := make([]perm.Membership, 0)
	prefix := projectID + "/"
	for key, role := range m.Roles {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			members = append(members, perm.Membership{
				ProjectID: projectID,
				UserID:    key[len(prefix):],
				Role:      role,
			})
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

// Profile implements perm.MembershipStore.
func (m *MembershipMap) Profile(_ context.Context, userID string) (*perm.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.Profiles[userID]
	if !ok {
		return nil, perm.ErrNotFound
	}
	return &p, nil
}

// LoadSnapshot implements perm.SnapshotLoader.
func (m *MembershipMap) LoadSnapshot(_ context.Context) (*perm.MembershipSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	snap := &perm.MembershipSnapshot{
		OrgRoles:     make(map[string]perm.OrgRole, len(m.OrgRoles)),
		ProjectRoles: make(map[string]perm.ProjectRole, len(m.Roles)),
	}
	for k, v := range m.OrgRoles {
		snap.OrgRoles[k] = v
	}
	for k, v := range m.Roles {
		snap.ProjectRoles[k] = v
	}
	return snap, nil
}

// TopLevelMap is a TopLevelStore backed by a map keyed on
// projectID/userID/entity.
type TopLevelMap struct {
	mu   sync.Mutex
	rows map[string]perm.TopLevelPermission
	Err  error
}

// NewTopLevelMap creates an empty top-level fake.
func NewTopLevelMap() *TopLevelMap {
	return &TopLevelMap{rows: make(map[string]perm.TopLevelPermission)}
}

func topLevelKey(projectID, userID string, entity perm.EntityType) string {
	return projectID + "/" + userID + "/" + string(entity)
}

// Get implements perm.TopLevelStore.
func (m *TopLevelMap) Get(_ context.Context, projectID, userID string, entity perm.EntityType) (*perm.TopLevelPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	row, ok := m.rows[topLevelKey(projectID, userID, entity)]
	if !ok {
		return nil, perm.ErrNotFound
	}
	return &row, nil
}

// Upsert implements perm.TopLevelStore.
func (m *TopLevelMap) Upsert(_ context.Context, p *perm.TopLevelPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.rows[topLevelKey(p.ProjectID, p.UserID, p.Entity)] = *p
	return nil
}

// Delete implements perm.TopLevelStore.
func (m *TopLevelMap) Delete(_ context.Context, projectID, userID string, entity perm.EntityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.rows, topLevelKey(projectID, userID, entity))
	return nil
}

// AssetMap is an AssetStore backed by a slice. Grants are deduplicated on
// the five-column identity the way the unique index does in PostgreSQL.
type AssetMap struct {
	mu     sync.Mutex
	grants []perm.AssetPermission
	Err    error

	// UpsertErr and DeleteErr override Err for single-operation failure
	// injection in bulk update tests.
	UpsertErr map[string]error // permission → error
	DeleteErr map[string]error
}

// NewAssetMap creates an empty asset grant fake.
func NewAssetMap() *AssetMap {
	return &AssetMap{
		UpsertErr: make(map[string]error),
		DeleteErr: make(map[string]error),
	}
}

func sameGrant(a perm.AssetPermission, projectID, userID string, assetType perm.ResourceType, assetID, permission string) bool {
	return a.ProjectID == projectID && a.UserID == userID &&
		a.AssetType == assetType && a.AssetID == assetID && a.Permission == permission
}

// Upsert implements perm.AssetStore.
func (m *AssetMap) Upsert(_ context.Context, p *perm.AssetPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if err, ok := m.UpsertErr[p.Permission]; ok {
		return err
	}
	for _, g := range m.grants {
		if sameGrant(g, p.ProjectID, p.UserID, p.AssetType, p.AssetID, p.Permission) {
			return nil
		}
	}
	m.grants = append(m.grants, *p)
	return nil
}

// Delete implements perm.AssetStore.
func (m *AssetMap) Delete(_ context.Context, projectID, userID string, assetType perm.ResourceType, assetID, permission string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if err, ok := m.DeleteErr[permission]; ok {
		return err
	}
	kept := m.grants[:0]
	for _, g := range m.grants {
		if !sameGrant(g, projectID, userID, assetType, assetID, permission) {
			kept = append(kept, g)
		}
	}
	m.grants = kept
	return nil
}

// ListForAsset implements perm.AssetStore.
func (m *AssetMap) ListForAsset(_ context.Context, projectID string, assetType perm.ResourceType, assetID string) ([]perm.AssetPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]perm.AssetPermission, 0)
	for _, g := range m.grants {
		if g.ProjectID == projectID && g.AssetType == assetType && g.AssetID == assetID {
			out = append(out, g)
		}
	}
	return out, nil
}

// ListForUserAsset implements perm.AssetStore.
func (m *AssetMap) ListForUserAsset(_ context.Context, projectID, userID string, assetType perm.ResourceType, assetID string) ([]perm.AssetPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]perm.AssetPermission, 0)
	for _, g := range m.grants {
		if g.ProjectID == projectID && g.UserID == userID && g.AssetType == assetType && g.AssetID == assetID {
			out = append(out, g)
		}
	}
	return out, nil
}

// DeleteAllForUserAsset implements perm.AssetStore.
func (m *AssetMap) DeleteAllForUserAsset(_ context.Context, projectID, userID string, assetType perm.ResourceType, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	kept := m.grants[:0]
	for _, g := range m.grants {
		if !(g.ProjectID == projectID && g.UserID == userID && g.AssetType == assetType && g.AssetID == assetID) {
			kept = append(kept, g)
		}
	}
	m.grants = kept
	return nil
}

// DeleteAllForAsset implements perm.AssetStore.
func (m *AssetMap) DeleteAllForAsset(_ context.Context, projectID string, assetType perm.ResourceType, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	kept := m.grants[:0]
	for _, g := range m.grants {
		if !(g.ProjectID == projectID && g.AssetType == assetType && g.AssetID == assetID) {
			kept = append(kept, g)
		}
	}
	m.grants = kept
	return nil
}

// Count returns the number of stored grants.
func (m *AssetMap) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.grants)
}

// RoleMap is a RoleStore backed by maps.
type RoleMap struct {
	mu          sync.Mutex
	roles       map[string]*perm.Role
	assignments []perm.UserRoleAssignment
	Err         error

	// InsertPermissionsErr fails InsertPermissions when set, leaving the
	// role row in place the way a partial create does.
	InsertPermissionsErr error
}

// NewRoleMap creates an empty role fake.
func NewRoleMap() *RoleMap {
	return &RoleMap{roles: make(map[string]*perm.Role)}
}

// Create implements perm.RoleStore.
func (m *RoleMap) Create(_ context.Context, role *perm.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	clone := *role
	clone.Permissions = nil
	m.roles[role.ID] = &clone
	return nil
}

// Get implements perm.RoleStore.
func (m *RoleMap) Get(_ context.Context, roleID string) (*perm.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	role, ok := m.roles[roleID]
	if !ok {
		return nil, perm.ErrNotFound
	}
	clone := *role
	clone.Permissions = append([]perm.RolePermission(nil), role.Permissions...)
	return &clone, nil
}

// UpdateFields implements perm.RoleStore.
func (m *RoleMap) UpdateFields(_ context.Context, role *perm.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	existing, ok := m.roles[role.ID]
	if !ok {
		return perm.ErrNotFound
	}
	existing.Name = role.Name
	existing.Description = role.Description
	existing.TopLevelAccess = role.TopLevelAccess
	existing.UpdatedAt = role.UpdatedAt
	return nil
}

// InsertPermissions implements perm.RoleStore.
func (m *RoleMap) InsertPermissions(_ context.Context, roleID string, perms []perm.RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.InsertPermissionsErr != nil {
		return m.InsertPermissionsErr
	}
	role, ok := m.roles[roleID]
	if !ok {
		return perm.ErrNotFound
	}
	role.Permissions = append(role.Permissions, perms...)
	return nil
}

// ReplacePermissions implements perm.RoleStore.
func (m *RoleMap) ReplacePermissions(_ context.Context, roleID string, perms []perm.RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	role, ok := m.roles[roleID]
	if !ok {
		return perm.ErrNotFound
	}
	role.Permissions = append([]perm.RolePermission(nil), perms...)
	return nil
}

// Delete implements perm.RoleStore.
func (m *RoleMap) Delete(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.roles[roleID]; !ok {
		return perm.ErrNotFound
	}
	delete(m.roles, roleID)
	return nil
}

// ListByOrg implements perm.RoleStore.
func (m *RoleMap) ListByOrg(_ context.Context, orgID string) ([]*perm.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*perm.Role, 0)
	for _, role := range m.roles {
		if role.OrgID == orgID {
			clone := *role
			clone.Permissions = append([]perm.RolePermission(nil), role.Permissions...)
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Assign implements perm.RoleStore.
func (m *RoleMap) Assign(_ context.Context, a *perm.UserRoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			return nil
		}
	}
	m.assignments = append(m.assignments, *a)
	return nil
}

// Unassign implements perm.RoleStore.
func (m *RoleMap) Unassign(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if !(a.UserID == userID && a.RoleID == roleID) {
			kept = append(kept, a)
		}
	}
	m.assignments = kept
	return nil
}

// ListPermissionsForUser implements perm.RoleStore. Assignments pointing
// at deleted roles contribute nothing.
func (m *RoleMap) ListPermissionsForUser(_ context.Context, userID string) ([]perm.RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]perm.RolePermission, 0)
	for _, a := range m.assignments {
		if a.UserID != userID {
			continue
		}
		if role, ok := m.roles[a.RoleID]; ok {
			out = append(out, role.Permissions...)
		}
	}
	return out, nil
}

// ResourceMap is a ResourceStore backed by a map.
type ResourceMap struct {
	mu        sync.Mutex
	resources map[string]perm.Resource
	Err       error
}

// NewResourceMap creates an empty resource catalog fake.
func NewResourceMap() *ResourceMap {
	return &ResourceMap{resources: make(map[string]perm.Resource)}
}

// Add records a catalog entry.
func (m *ResourceMap) Add(r perm.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

// Get implements perm.ResourceStore.
func (m *ResourceMap) Get(_ context.Context, id string) (*perm.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	r, ok := m.resources[id]
	if !ok {
		return nil, perm.ErrNotFound
	}
	return &r, nil
}

// ListByProject implements perm.ResourceStore.
func (m *ResourceMap) ListByProject(_ context.Context, projectID string) ([]perm.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]perm.Resource, 0)
	for _, r := range m.resources {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete implements perm.ResourceStore.
func (m *ResourceMap) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.resources[id]; !ok {
		return perm.ErrNotFound
	}
	delete(m.resources, id)
	return nil
}

// RecordingNotifier captures notifications for assertions.
type RecordingNotifier struct {
	mu       sync.Mutex
	Messages []string
}

// Notify implements perm.Notifier.
func (n *RecordingNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
}

// Count returns the number of captured notifications.
func (n *RecordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}

// Verify interfaces are satisfied.
var (
	_ perm.MembershipStore = (*MembershipMap)(nil)
	_ perm.SnapshotLoader  = (*MembershipMap)(nil)
	_ perm.TopLevelStore   = (*TopLevelMap)(nil)
	_ perm.AssetStore      = (*AssetMap)(nil)
	_ perm.RoleStore       = (*RoleMap)(nil)
	_ perm.ResourceStore   = (*ResourceMap)(nil)
	_ perm.Notifier        = (*RecordingNotifier)(nil)
)
