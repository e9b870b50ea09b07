// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/formworks/formworks/internal/perm"
	"github.com/formworks/formworks/internal/perm/permtest"
)

// countingMemberships wraps a MembershipMap and counts store reads, so
// tests can tell cache hits from pass-throughs.
type countingMemberships struct {
	*permtest.MembershipMap
	reads atomic.Int64
}

func (c *countingMemberships) OrgRole(ctx context.Context, userID string) (perm.OrgRole, error) {
	c.reads.Add(1)
	return c.MembershipMap.OrgRole(ctx, userID)
}

func (c *countingMemberships) ProjectRole(ctx context.Context, projectID, userID string) (perm.ProjectRole, error) {
	c.reads.Add(1)
	return c.MembershipMap.ProjectRole(ctx, projectID, userID)
}

type mockListener struct {
	ch  chan string
	err error
}

func (m *mockListener) Listen(_ context.Context) (<-chan string, error) {
	return m.ch, m.err
}

func TestCache_FreshSnapshotServesReads(t *testing.T) {
	store := &countingMemberships{MembershipMap: permtest.NewMembershipMap()}
	store.SetOrgRole("root", perm.OrgRoleAdmin)
	store.SetProjectRole(projectID, "pm", perm.ProjectRoleAdmin)

	cache := perm.NewMembershipCache(store, store.MembershipMap)
	require.NoError(t, cache.Reload(context.Background()))

	role, err := cache.OrgRole(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, perm.OrgRoleAdmin, role)

	projectRole, err := cache.ProjectRole(context.Background(), projectID, "pm")
	require.NoError(t, err)
	assert.Equal(t, perm.ProjectRoleAdmin, projectRole)

	assert.Zero(t, store.reads.Load(), "fresh snapshot reads never hit the store")
}

func TestCache_UnknownUserInFreshSnapshot(t *testing.T) {
	store := &countingMemberships{MembershipMap: permtest.NewMembershipMap()}
	cache := perm.NewMembershipCache(store, store.MembershipMap)
	require.NoError(t, cache.Reload(context.Background()))

	role, err := cache.OrgRole(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Equal(t, perm.OrgRoleMember, role)

	projectRole, err := cache.ProjectRole(context.Background(), projectID, "stranger")
	require.NoError(t, err)
	assert.Equal(t, perm.ProjectRoleNone, projectRole)
}

func TestCache_StaleSnapshotPassesThrough(t *testing.T) {
	store := &countingMemberships{MembershipMap: permtest.NewMembershipMap()}
	store.SetOrgRole("root", perm.OrgRoleAdmin)

	cache := perm.NewMembershipCache(store, store.MembershipMap,
		perm.WithStalenessThreshold(time.Nanosecond))
	require.NoError(t, cache.Reload(context.Background()))
	time.Sleep(time.Millisecond)
	require.True(t, cache.IsStale())

	role, err := cache.OrgRole(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, perm.OrgRoleAdmin, role)
	assert.Equal(t, int64(1), store.reads.Load(), "stale reads hit the store")
}

func TestCache_NeverReloadedIsStale(t *testing.T) {
	store := permtest.NewMembershipMap()
	cache := perm.NewMembershipCache(store, store)
	assert.True(t, cache.IsStale())
}

func TestCache_ReloadSeesNewData(t *testing.T) {
	store := &countingMemberships{MembershipMap: permtest.NewMembershipMap()}
	cache := perm.NewMembershipCache(store, store.MembershipMap)
	require.NoError(t, cache.Reload(context.Background()))

	// Role granted after the snapshot; invisible until reload.
	store.SetOrgRole("late", perm.OrgRoleAdmin)
	role, err := cache.OrgRole(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, perm.OrgRoleMember, role)

	require.NoError(t, cache.Reload(context.Background()))
	role, err = cache.OrgRole(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, perm.OrgRoleAdmin, role)
}

func TestCache_ListenNotifyTriggersReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := permtest.NewMembershipMap()
	cache := perm.NewMembershipCache(store, store)
	require.NoError(t, cache.Reload(context.Background()))

	ch := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, cache.StartWithListener(ctx, &mockListener{ch: ch}))

	store.SetOrgRole("late", perm.OrgRoleAdmin)
	ch <- "membership:late"

	require.Eventually(t, func() bool {
		role, err := cache.OrgRole(context.Background(), "late")
		return err == nil && role == perm.OrgRoleAdmin
	}, 2*time.Second, 10*time.Millisecond, "notification should trigger a reload")

	cancel()
	cache.Wait()
}

func TestCache_ListenerChannelCloseStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := permtest.NewMembershipMap()
	cache := perm.NewMembershipCache(store, store)

	ch := make(chan string)
	require.NoError(t, cache.StartWithListener(context.Background(), &mockListener{ch: ch}))
	close(ch)
	cache.Wait()
}

func TestCache_ReloadFailureKeepsOldSnapshot(t *testing.T) {
	store := permtest.NewMembershipMap()
	store.SetOrgRole("root", perm.OrgRoleAdmin)
	cache := perm.NewMembershipCache(store, store)
	require.NoError(t, cache.Reload(context.Background()))

	store.Err = assert.AnError
	require.Error(t, cache.Reload(context.Background()))
	store.Err = nil

	role, err := cache.OrgRole(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, perm.OrgRoleAdmin, role, "a failed reload does not clobber the snapshot")
}
