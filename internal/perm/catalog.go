// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

// The form permission catalog is static configuration, not a database
// entity. It drives the UI matrix and bounds the permission values the
// asset store accepts for forms.

// PermissionCategory groups form permissions for display.
type PermissionCategory string

// Form permission categories.
const (
	CategoryAccess     PermissionCategory = "access"
	CategoryContent    PermissionCategory = "content"
	CategoryManagement PermissionCategory = "management"
)

// Form permission identifiers. The catalog is versioned by code: changing
// it is a schema-level event, not a runtime operation.
const (
	PermViewForm          = "view_form"
	PermSubmitForm        = "submit_form"
	PermViewSubmissions   = "view_submissions"
	PermExportSubmissions = "export_submissions"
	PermEditForm          = "edit_form"
	PermDeleteForm        = "delete_form"
	PermManageFields      = "manage_fields"
	PermEditSubmissions   = "edit_submissions"
	PermDeleteSubmissions = "delete_submissions"
	PermManageAccess      = "manage_access"
	PermPublishForm       = "publish_form"
	PermArchiveForm       = "archive_form"
)

// formPermissionCategories assigns each of the 12 catalog entries to its
// category. Iteration order for display comes from FormPermissionTypes.
var formPermissionCategories = map[string]PermissionCategory{
	PermViewForm:          CategoryAccess,
	PermSubmitForm:        CategoryAccess,
	PermViewSubmissions:   CategoryAccess,
	PermExportSubmissions: CategoryAccess,
	PermEditForm:          CategoryContent,
	PermDeleteForm:        CategoryContent,
	PermManageFields:      CategoryContent,
	PermEditSubmissions:   CategoryContent,
	PermDeleteSubmissions: CategoryContent,
	PermManageAccess:      CategoryManagement,
	PermPublishForm:       CategoryManagement,
	PermArchiveForm:       CategoryManagement,
}

// formPermissionOrder is the stable display order: access, content,
// management.
var formPermissionOrder = []string{
	PermViewForm,
	PermSubmitForm,
	PermViewSubmissions,
	PermExportSubmissions,
	PermEditForm,
	PermDeleteForm,
	PermManageFields,
	PermEditSubmissions,
	PermDeleteSubmissions,
	PermManageAccess,
	PermPublishForm,
	PermArchiveForm,
}

// FormPermissionTypes returns the catalog identifiers in display order.
// Returns a copy; callers may not mutate the catalog.
func FormPermissionTypes() []string {
	out := make([]string, len(formPermissionOrder))
	copy(out, formPermissionOrder)
	return out
}

// FormPermissionCategory returns the category for a catalog identifier.
// The second return is false for identifiers outside the catalog.
func FormPermissionCategory(permission string) (PermissionCategory, bool) {
	c, ok := formPermissionCategories[permission]
	return c, ok
}

// ValidFormPermission reports whether the identifier is in the catalog.
func ValidFormPermission(permission string) bool {
	_, ok := formPermissionCategories[permission]
	return ok
}

// roleDefaultCategories maps a project role to the categories it grants
// by default. Explicit asset grants layer on top of these.
var roleDefaultCategories = map[ProjectRole]map[PermissionCategory]bool{
	ProjectRoleAdmin: {
		CategoryAccess:     true,
		CategoryContent:    true,
		CategoryManagement: true,
	},
	ProjectRoleEditor: {
		CategoryAccess:  true,
		CategoryContent: true,
	},
	ProjectRoleViewer: {
		CategoryAccess: true,
	},
}

// RoleDefaultGrants reports whether the given project role grants the
// catalog permission by default (without an explicit row).
func RoleDefaultGrants(role ProjectRole, permission string) bool {
	category, ok := formPermissionCategories[permission]
	if !ok {
		return false
	}
	return roleDefaultCategories[role][category]
}
