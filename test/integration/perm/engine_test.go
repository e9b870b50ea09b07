// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

//go:build integration

package perm_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/formworks/formworks/internal/perm"
	permpg "github.com/formworks/formworks/internal/perm/postgres"
	"github.com/formworks/formworks/internal/store"
)

const projectID = "proj-1"

func startDatabase() (*pgxpool.Pool, func(), error) {
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

var _ = Describe("Permission engine", func() {
	var (
		pool     *pgxpool.Pool
		cleanup  func()
		resolver *perm.Resolver
		ctx      context.Context
	)

	seedUser := func(userID, displayName string, orgRole perm.OrgRole) {
		_, err := pool.Exec(ctx,
			`INSERT INTO org_profiles (user_id, display_name, org_role) VALUES ($1, $2, $3)`,
			userID, displayName, string(orgRole))
		Expect(err).NotTo(HaveOccurred())
	}

	seedMember := func(userID string, role perm.ProjectRole) {
		_, err := pool.Exec(ctx,
			`INSERT INTO project_users (project_id, user_id, role) VALUES ($1, $2, $3)`,
			projectID, userID, string(role))
		Expect(err).NotTo(HaveOccurred())
	}

	seedResource := func(id string, rt perm.ResourceType, name string) {
		_, err := pool.Exec(ctx,
			`INSERT INTO resources (id, project_id, resource_type, name) VALUES ($1, $2, $3, $4)`,
			id, projectID, string(rt), name)
		Expect(err).NotTo(HaveOccurred())
	}

	request := func(userID string, entity perm.EntityType, action perm.Action) perm.Request {
		return perm.Request{
			ProjectID: projectID,
			UserID:    userID,
			Entity:    entity,
			Action:    action,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		pool, cleanup, err = startDatabase()
		Expect(err).NotTo(HaveOccurred())

		resolver = perm.NewResolver(perm.ResolverConfig{
			Memberships: permpg.NewMembershipRepository(pool),
			TopLevel:    permpg.NewTopLevelRepository(pool),
			Roles:       permpg.NewRoleRepository(pool),
		})

		seedUser("alice", "Alice", perm.OrgRoleAdmin)
		seedUser("diana", "Diana", perm.OrgRoleMember)
		seedUser("bob", "Bob", perm.OrgRoleMember)
		seedUser("carol", "Carol", perm.OrgRoleMember)
		seedMember("diana", perm.ProjectRoleAdmin)
		seedMember("bob", perm.ProjectRoleEditor)
		seedMember("carol", perm.ProjectRoleViewer)
		seedResource("form-1", perm.ResourceForm, "Intake")
		seedResource("wf-1", perm.ResourceWorkflow, "Review")
		seedResource("wf-2", perm.ResourceWorkflow, "Approval")
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("Resolver", func() {
		It("lets an org admin do everything", func() {
			for _, action := range []perm.Action{
				perm.ActionCreate, perm.ActionRead, perm.ActionUpdate, perm.ActionDelete,
			} {
				Expect(resolver.HasPermission(ctx, request("alice", perm.EntityForms, action))).
					To(BeTrue(), "org admin should be allowed %s", action)
			}
		})

		It("lets a project admin do everything within the project", func() {
			Expect(resolver.HasPermission(ctx, request("diana", perm.EntityWorkflows, perm.ActionDelete))).To(BeTrue())

			other := request("diana", perm.EntityWorkflows, perm.ActionDelete)
			other.ProjectID = "proj-other"
			Expect(resolver.HasPermission(ctx, other)).To(BeFalse(), "admin role is project scoped")
		})

		It("denies members without permission rows", func() {
			Expect(resolver.HasPermission(ctx, request("bob", perm.EntityForms, perm.ActionRead))).To(BeFalse())
		})

		It("gates actions on top-level flags", func() {
			topLevel := permpg.NewTopLevelRepository(pool)
			Expect(topLevel.Upsert(ctx, &perm.TopLevelPermission{
				ProjectID: projectID, UserID: "bob",
				Entity: perm.EntityForms, CanRead: true,
			})).To(Succeed())

			Expect(resolver.HasPermission(ctx, request("bob", perm.EntityForms, perm.ActionRead))).To(BeTrue())
			Expect(resolver.HasPermission(ctx, request("bob", perm.EntityForms, perm.ActionUpdate))).To(BeFalse())
			Expect(resolver.HasPermission(ctx, request("bob", perm.EntityWorkflows, perm.ActionRead))).
				To(BeFalse(), "top-level rows are scoped per entity type")
		})

		It("widens instance read visibility through role grants", func() {
			roles := permpg.NewRoleRepository(pool)
			resources := permpg.NewResourceRepository(pool)
			memberships := permpg.NewMembershipRepository(pool)
			roleSvc := perm.NewRoleService(roles, resources, memberships, nil)

			role, err := roleSvc.Create(ctx, "diana", perm.RoleInput{
				OrgID:          "org-1",
				Name:           "Review Readers",
				TopLevelAccess: perm.AccessViewer,
				Grants: []perm.ResourceGrant{
					{Entity: perm.EntityWorkflows, ResourceID: "wf-1", Permissions: []perm.Action{perm.ActionRead}},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(roleSvc.Assign(ctx, "carol", role.ID, "diana")).To(Succeed())

			req := request("carol", perm.EntityWorkflows, perm.ActionRead)
			req.ResourceID = "wf-1"
			Expect(resolver.HasPermission(ctx, req)).To(BeTrue())

			req.ResourceID = "wf-2"
			Expect(resolver.HasPermission(ctx, req)).To(BeFalse(), "grant is instance scoped")

			visible := resolver.VisibleResources(ctx, projectID, "carol", perm.EntityWorkflows, []perm.Resource{
				{ID: "wf-1", ProjectID: projectID, Type: perm.ResourceWorkflow, Name: "Review"},
				{ID: "wf-2", ProjectID: projectID, Type: perm.ResourceWorkflow, Name: "Approval"},
			})
			Expect(visible).To(HaveLen(1))
			Expect(visible[0].ID).To(Equal("wf-1"))
		})
	})

	Describe("Form access matrix", func() {
		It("overlays explicit grants on role defaults", func() {
			matrix := perm.NewMatrixService(
				permpg.NewMembershipRepository(pool),
				permpg.NewAssetRepository(pool),
				nil)

			rows, err := matrix.Grant(ctx, projectID, "form-1", "bob", perm.PermManageAccess)
			Expect(err).NotTo(HaveOccurred())

			var bobRow, carolRow *perm.FormPermissionUser
			for i := range rows {
				switch rows[i].UserID {
				case "bob":
					bobRow = &rows[i]
				case "carol":
					carolRow = &rows[i]
				}
			}
			Expect(bobRow).NotTo(BeNil())
			Expect(carolRow).NotTo(BeNil())

			// Explicit grant on top of the editor defaults.
			Expect(bobRow.Permissions[perm.PermManageAccess].Granted).To(BeTrue())
			Expect(bobRow.Permissions[perm.PermManageAccess].Explicit).To(BeTrue())
			Expect(bobRow.Permissions[perm.PermEditForm].Granted).To(BeTrue())
			Expect(bobRow.Permissions[perm.PermEditForm].Explicit).To(BeFalse())
			Expect(bobRow.HasExplicitPermissions).To(BeTrue())

			// Viewer defaults: access only.
			Expect(carolRow.Permissions[perm.PermViewForm].Granted).To(BeTrue())
			Expect(carolRow.Permissions[perm.PermEditForm].Granted).To(BeFalse())
			Expect(carolRow.HasExplicitPermissions).To(BeFalse())
		})
	})

	Describe("Report access levels", func() {
		It("replaces rows on level changes and derives the highest level", func() {
			reports := perm.NewReportAccessService(permpg.NewAssetRepository(pool), nil)

			Expect(reports.GrantAccess(ctx, projectID, "rep-1", "carol", perm.AccessLevelEdit)).To(Succeed())
			level, ok, err := reports.CheckUserAccess(ctx, projectID, "rep-1", "carol")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(level).To(Equal(perm.AccessLevelEdit))

			Expect(reports.GrantAccess(ctx, projectID, "rep-1", "carol", perm.AccessLevelAdmin)).To(Succeed())
			level, ok, err = reports.CheckUserAccess(ctx, projectID, "rep-1", "carol")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(level).To(Equal(perm.AccessLevelAdmin))

			Expect(reports.RevokeAccess(ctx, projectID, "rep-1", "carol")).To(Succeed())
			_, ok, err = reports.CheckUserAccess(ctx, projectID, "rep-1", "carol")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Membership cache invalidation", func() {
		It("reloads the snapshot when a permission change is notified", func() {
			memberships := permpg.NewMembershipRepository(pool)
			cache := perm.NewMembershipCache(memberships, memberships)
			Expect(cache.Reload(ctx)).To(Succeed())

			listenCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			Expect(cache.StartWithListener(listenCtx, permpg.NewPgListener(pool, nil))).To(Succeed())

			// Give LISTEN time to attach.
			time.Sleep(500 * time.Millisecond)

			seedMember("eve", perm.ProjectRoleEditor)

			// Membership writes alone do not notify; a permission write does.
			topLevel := permpg.NewTopLevelRepository(pool)
			Expect(topLevel.Upsert(ctx, &perm.TopLevelPermission{
				ProjectID: projectID, UserID: "eve",
				Entity: perm.EntityForms, CanRead: true,
			})).To(Succeed())

			Eventually(func() perm.ProjectRole {
				role, err := cache.ProjectRole(ctx, projectID, "eve")
				if err != nil {
					return perm.ProjectRoleNone
				}
				return role
			}, 5*time.Second, 100*time.Millisecond).Should(Equal(perm.ProjectRoleEditor))
		})
	})
})
