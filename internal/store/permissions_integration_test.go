// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/formworks/formworks/internal/perm"
	permpg "github.com/formworks/formworks/internal/perm/postgres"
	"github.com/formworks/formworks/internal/store"
)

// setupPermissionDB starts a PostgreSQL container and applies all
// migrations, returning a connected pool.
func setupPermissionDB() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("formworks_test"),
		postgres.WithUsername("formworks"),
		postgres.WithPassword("formworks"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	pool, err := store.NewPool(ctx, store.PoolConfig{URL: connStr})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

var _ = Describe("Permission repositories", func() {
	var pool *pgxpool.Pool
	var cleanup func()
	ctx := context.Background()

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPermissionDB()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	addMember := func(projectID, userID string, role perm.ProjectRole) {
		_, err := pool.Exec(ctx,
			`INSERT INTO project_users (project_id, user_id, role) VALUES ($1, $2, $3)`,
			projectID, userID, string(role))
		Expect(err).NotTo(HaveOccurred())
	}

	addProfile := func(userID, displayName string, orgRole perm.OrgRole) {
		_, err := pool.Exec(ctx,
			`INSERT INTO org_profiles (user_id, display_name, org_role) VALUES ($1, $2, $3)`,
			userID, displayName, string(orgRole))
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("MembershipRepository", func() {
		It("reads org and project roles", func() {
			repo := permpg.NewMembershipRepository(pool)
			addProfile("alice", "Alice", perm.OrgRoleAdmin)
			addMember("proj-1", "bob", perm.ProjectRoleEditor)

			orgRole, err := repo.OrgRole(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(orgRole).To(Equal(perm.OrgRoleAdmin))

			projRole, err := repo.ProjectRole(ctx, "proj-1", "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(projRole).To(Equal(perm.ProjectRoleEditor))
		})

		It("treats unknown users as plain members with no project role", func() {
			repo := permpg.NewMembershipRepository(pool)

			orgRole, err := repo.OrgRole(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(orgRole).To(Equal(perm.OrgRoleMember))

			projRole, err := repo.ProjectRole(ctx, "proj-1", "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(projRole).To(Equal(perm.ProjectRoleNone))
		})

		It("loads a full snapshot", func() {
			repo := permpg.NewMembershipRepository(pool)
			addProfile("alice", "Alice", perm.OrgRoleAdmin)
			addMember("proj-1", "alice", perm.ProjectRoleAdmin)
			addMember("proj-1", "bob", perm.ProjectRoleViewer)

			snap, err := repo.LoadSnapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.OrgRoles).To(HaveKeyWithValue("alice", perm.OrgRoleAdmin))
			Expect(snap.ProjectRoles).To(HaveKeyWithValue("proj-1/alice", perm.ProjectRoleAdmin))
			Expect(snap.ProjectRoles).To(HaveKeyWithValue("proj-1/bob", perm.ProjectRoleViewer))
		})
	})

	Describe("TopLevelRepository", func() {
		It("round-trips a permission row through upsert", func() {
			repo := permpg.NewTopLevelRepository(pool)
			row := &perm.TopLevelPermission{
				ProjectID: "proj-1",
				UserID:    "bob",
				Entity:    perm.EntityForms,
				CanRead:   true,
			}
			Expect(repo.Upsert(ctx, row)).To(Succeed())

			got, err := repo.Get(ctx, "proj-1", "bob", perm.EntityForms)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.CanRead).To(BeTrue())
			Expect(got.CanUpdate).To(BeFalse())

			row.CanUpdate = true
			Expect(repo.Upsert(ctx, row)).To(Succeed())

			got, err = repo.Get(ctx, "proj-1", "bob", perm.EntityForms)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.CanUpdate).To(BeTrue())
		})

		It("reports missing rows as not found", func() {
			repo := permpg.NewTopLevelRepository(pool)
			_, err := repo.Get(ctx, "proj-1", "bob", perm.EntityWorkflows)
			Expect(errors.Is(err, perm.ErrNotFound)).To(BeTrue())
		})

		It("deletes rows and tolerates deleting absent rows", func() {
			repo := permpg.NewTopLevelRepository(pool)
			row := &perm.TopLevelPermission{
				ProjectID: "proj-1", UserID: "bob",
				Entity: perm.EntityReports, CanRead: true,
			}
			Expect(repo.Upsert(ctx, row)).To(Succeed())
			Expect(repo.Delete(ctx, "proj-1", "bob", perm.EntityReports)).To(Succeed())

			_, err := repo.Get(ctx, "proj-1", "bob", perm.EntityReports)
			Expect(errors.Is(err, perm.ErrNotFound)).To(BeTrue())

			Expect(repo.Delete(ctx, "proj-1", "bob", perm.EntityReports)).To(Succeed())
		})
	})

	Describe("AssetRepository", func() {
		grant := func(userID, permission string) *perm.AssetPermission {
			return &perm.AssetPermission{
				ID:         ulid.Make().String(),
				ProjectID:  "proj-1",
				UserID:     userID,
				AssetType:  perm.ResourceForm,
				AssetID:    "form-1",
				Permission: permission,
				GrantedBy:  "alice",
			}
		}

		It("keeps grants idempotent on repeated upsert", func() {
			repo := permpg.NewAssetRepository(pool)
			Expect(repo.Upsert(ctx, grant("bob", perm.PermViewForm))).To(Succeed())
			Expect(repo.Upsert(ctx, grant("bob", perm.PermViewForm))).To(Succeed())

			rows, err := repo.ListForUserAsset(ctx, "proj-1", "bob", perm.ResourceForm, "form-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
		})

		It("lists grants for an asset ordered by user then permission", func() {
			repo := permpg.NewAssetRepository(pool)
			Expect(repo.Upsert(ctx, grant("carol", perm.PermViewForm))).To(Succeed())
			Expect(repo.Upsert(ctx, grant("bob", perm.PermViewForm))).To(Succeed())
			Expect(repo.Upsert(ctx, grant("bob", perm.PermEditForm))).To(Succeed())

			rows, err := repo.ListForAsset(ctx, "proj-1", perm.ResourceForm, "form-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0].UserID).To(Equal("bob"))
			Expect(rows[1].UserID).To(Equal("bob"))
			Expect(rows[2].UserID).To(Equal("carol"))
		})

		It("removes all grants for one user on one asset", func() {
			repo := permpg.NewAssetRepository(pool)
			Expect(repo.Upsert(ctx, grant("bob", perm.PermViewForm))).To(Succeed())
			Expect(repo.Upsert(ctx, grant("bob", perm.PermSubmitForm))).To(Succeed())
			Expect(repo.Upsert(ctx, grant("carol", perm.PermViewForm))).To(Succeed())

			Expect(repo.DeleteAllForUserAsset(ctx, "proj-1", "bob", perm.ResourceForm, "form-1")).To(Succeed())

			rows, err := repo.ListForAsset(ctx, "proj-1", perm.ResourceForm, "form-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].UserID).To(Equal("carol"))
		})
	})

	Describe("RoleRepository", func() {
		newRole := func(name string) *perm.Role {
			return &perm.Role{
				ID:             ulid.Make().String(),
				OrgID:          "org-1",
				Name:           name,
				TopLevelAccess: perm.AccessEditor,
				CreatedBy:      "alice",
			}
		}

		It("persists a role with its permission rows", func() {
			repo := permpg.NewRoleRepository(pool)
			role := newRole("Form Editors")
			Expect(repo.Create(ctx, role)).To(Succeed())
			Expect(repo.InsertPermissions(ctx, role.ID, []perm.RolePermission{
				{RoleID: role.ID, ResourceType: perm.ResourceForm, ResourceID: perm.WildcardResource, Permission: perm.ActionRead},
				{RoleID: role.ID, ResourceType: perm.ResourceForm, ResourceID: "form-1", Permission: perm.ActionUpdate},
			})).To(Succeed())

			got, err := repo.Get(ctx, role.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Name).To(Equal("Form Editors"))
			Expect(got.Permissions).To(HaveLen(2))
		})

		It("unions permissions across a user's assignments", func() {
			repo := permpg.NewRoleRepository(pool)
			readers := newRole("Readers")
			writers := newRole("Writers")
			Expect(repo.Create(ctx, readers)).To(Succeed())
			Expect(repo.Create(ctx, writers)).To(Succeed())
			Expect(repo.InsertPermissions(ctx, readers.ID, []perm.RolePermission{
				{RoleID: readers.ID, ResourceType: perm.ResourceForm, ResourceID: perm.WildcardResource, Permission: perm.ActionRead},
			})).To(Succeed())
			Expect(repo.InsertPermissions(ctx, writers.ID, []perm.RolePermission{
				{RoleID: writers.ID, ResourceType: perm.ResourceWorkflow, ResourceID: "wf-1", Permission: perm.ActionUpdate},
			})).To(Succeed())

			for _, roleID := range []string{readers.ID, writers.ID} {
				Expect(repo.Assign(ctx, &perm.UserRoleAssignment{
					ID: ulid.Make().String(), UserID: "bob", RoleID: roleID, AssignedBy: "alice",
				})).To(Succeed())
			}

			perms, err := repo.ListPermissionsForUser(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(perms).To(HaveLen(2))
		})

		It("stops resolving permissions after role deletion without touching assignments", func() {
			repo := permpg.NewRoleRepository(pool)
			role := newRole("Ephemeral")
			Expect(repo.Create(ctx, role)).To(Succeed())
			Expect(repo.InsertPermissions(ctx, role.ID, []perm.RolePermission{
				{RoleID: role.ID, ResourceType: perm.ResourceReport, ResourceID: perm.WildcardResource, Permission: perm.ActionRead},
			})).To(Succeed())
			Expect(repo.Assign(ctx, &perm.UserRoleAssignment{
				ID: ulid.Make().String(), UserID: "bob", RoleID: role.ID, AssignedBy: "alice",
			})).To(Succeed())

			Expect(repo.Delete(ctx, role.ID)).To(Succeed())

			perms, err := repo.ListPermissionsForUser(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(perms).To(BeEmpty())

			// The assignment row survives as an inert record.
			var count int
			err = pool.QueryRow(ctx,
				`SELECT count(*) FROM user_role_assignments WHERE user_id = $1`, "bob").Scan(&count)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})

		It("replaces the permission set atomically", func() {
			repo := permpg.NewRoleRepository(pool)
			role := newRole("Rotating")
			Expect(repo.Create(ctx, role)).To(Succeed())
			Expect(repo.InsertPermissions(ctx, role.ID, []perm.RolePermission{
				{RoleID: role.ID, ResourceType: perm.ResourceForm, ResourceID: "form-1", Permission: perm.ActionRead},
				{RoleID: role.ID, ResourceType: perm.ResourceForm, ResourceID: "form-2", Permission: perm.ActionRead},
			})).To(Succeed())

			Expect(repo.ReplacePermissions(ctx, role.ID, []perm.RolePermission{
				{RoleID: role.ID, ResourceType: perm.ResourceReport, ResourceID: perm.WildcardResource, Permission: perm.ActionRead},
			})).To(Succeed())

			got, err := repo.Get(ctx, role.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Permissions).To(HaveLen(1))
			Expect(got.Permissions[0].ResourceType).To(Equal(perm.ResourceReport))
		})
	})

	Describe("Change notifications", func() {
		It("delivers a payload when a permission write commits", func() {
			listenCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			listener := permpg.NewPgListener(pool, slog.Default())
			ch, err := listener.Listen(listenCtx)
			Expect(err).NotTo(HaveOccurred())

			// Give LISTEN time to attach before the write.
			time.Sleep(500 * time.Millisecond)

			repo := permpg.NewTopLevelRepository(pool)
			Expect(repo.Upsert(ctx, &perm.TopLevelPermission{
				ProjectID: "proj-1", UserID: "bob",
				Entity: perm.EntityForms, CanRead: true,
			})).To(Succeed())

			Eventually(ch, 5*time.Second).Should(Receive(Equal("top_level:proj-1")))
		})
	})
})
