// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// defaultStalenessThreshold bounds how long the membership snapshot is
// trusted without a successful reload.
const defaultStalenessThreshold = 30 * time.Second

// Listener abstracts the PostgreSQL LISTEN/NOTIFY mechanism for
// testability. The channel emits notification payloads and closes when
// the context is cancelled.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// MembershipSnapshot is an immutable view of org roles and project
// memberships. Safe for concurrent reads without locking.
type MembershipSnapshot struct {
	OrgRoles     map[string]OrgRole     // userID → org role
	ProjectRoles map[string]ProjectRole // projectID + "/" + userID → role
	CreatedAt    time.Time
}

// SnapshotLoader loads a full membership snapshot from the store.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) (*MembershipSnapshot, error)
}

// CacheOption configures MembershipCache behavior.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	stalenessThreshold time.Duration
	lastUpdateGauge    prometheus.Gauge
}

// WithStalenessThreshold sets the duration after which the snapshot is
// considered stale.
func WithStalenessThreshold(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.stalenessThreshold = d
	}
}

// WithLastUpdateGauge sets the Prometheus gauge recording the last
// successful reload timestamp.
func WithLastUpdateGauge(g prometheus.Gauge) CacheOption {
	return func(c *cacheConfig) {
		c.lastUpdateGauge = g
	}
}

// MembershipCache is a read-through cache over a MembershipStore. The
// admin bypass consults it on every permission check, so role lookups are
// served from an in-memory snapshot invalidated by pg_notify signals.
//
// A stale snapshot is never trusted for a security decision: stale reads
// fall through to the backing store, so the failure mode is latency, not
// a wrong grant.
type MembershipCache struct {
	store  MembershipStore
	loader SnapshotLoader
	cfg    cacheConfig

	mu       sync.RWMutex
	snapshot *MembershipSnapshot

	// lastUpdate holds the Unix nanosecond timestamp of the last
	// successful reload. Zero means never reloaded.
	lastUpdate atomic.Int64

	wg sync.WaitGroup
}

// NewMembershipCache creates a cache over the given store and loader.
// Call Reload to populate it before first use; until then every read
// passes through.
func NewMembershipCache(store MembershipStore, loader SnapshotLoader, opts ...CacheOption) *MembershipCache {
	cfg := cacheConfig{stalenessThreshold: defaultStalenessThreshold}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MembershipCache{
		store:  store,
		loader: loader,
		cfg:    cfg,
	}
}

// Reload fetches a fresh snapshot and atomically swaps it in. The write
// lock is held only for the pointer swap, not the store fetch.
func (c *MembershipCache) Reload(ctx context.Context) error {
	snap, err := c.loader.LoadSnapshot(ctx)
	if err != nil {
		return oops.Code("MEMBERSHIP_RELOAD_FAILED").Wrap(err)
	}
	snap.CreatedAt = time.Now()

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	now := time.Now()
	c.lastUpdate.Store(now.UnixNano())
	if c.cfg.lastUpdateGauge != nil {
		c.cfg.lastUpdateGauge.Set(float64(now.Unix()))
	}
	return nil
}

// IsStale reports whether no successful reload happened within the
// staleness threshold.
func (c *MembershipCache) IsStale() bool {
	last := c.lastUpdate.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) > c.cfg.stalenessThreshold
}

// OrgRole serves from the snapshot when fresh, else reads through.
func (c *MembershipCache) OrgRole(ctx context.Context, userID string) (OrgRole, error) {
	if snap := c.freshSnapshot(); snap != nil {
		if role, ok := snap.OrgRoles[userID]; ok {
			return role, nil
		}
		return OrgRoleMember, nil
	}
	return c.store.OrgRole(ctx, userID)
}

// ProjectRole serves from the snapshot when fresh, else reads through.
func (c *MembershipCache) ProjectRole(ctx context.Context, projectID, userID string) (ProjectRole, error) {
	if snap := c.freshSnapshot(); snap != nil {
		return snap.ProjectRoles[projectID+"/"+userID], nil
	}
	return c.store.ProjectRole(ctx, projectID, userID)
}

// ListMembers always passes through; the matrix surface needs ground
// truth, not a snapshot.
func (c *MembershipCache) ListMembers(ctx context.Context, projectID string) ([]Membership, error) {
	return c.store.ListMembers(ctx, projectID)
}

// Profile always passes through.
func (c *MembershipCache) Profile(ctx context.Context, userID string) (*UserProfile, error) {
	return c.store.Profile(ctx, userID)
}

// freshSnapshot returns the snapshot when present and within the
// staleness threshold, else nil.
func (c *MembershipCache) freshSnapshot() *MembershipSnapshot {
	if c.IsStale() {
		return nil
	}
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()
	return snap
}

// StartWithListener spawns the background goroutine that reloads the
// snapshot on every permission_changed notification.
func (c *MembershipCache) StartWithListener(ctx context.Context, listener Listener) error {
	ch, err := listener.Listen(ctx)
	if err != nil {
		return oops.Code("MEMBERSHIP_LISTEN_FAILED").Wrap(err)
	}
	c.wg.Add(1)
	go c.listenLoop(ctx, ch)
	return nil
}

// Wait blocks until background goroutines have exited.
func (c *MembershipCache) Wait() {
	c.wg.Wait()
}

func (c *MembershipCache) listenLoop(ctx context.Context, ch <-chan string) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := c.Reload(ctx); err != nil {
				slog.Error("membership cache reload on notification failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// CacheLastUpdate is the default gauge for the last successful membership
// snapshot reload. Register with the Prometheus registry at startup.
var CacheLastUpdate = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "perm_membership_cache_last_update",
	Help: "Unix timestamp of the last successful membership snapshot reload",
})

// RegisterCacheMetrics registers cache metrics with the given registry.
func RegisterCacheMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CacheLastUpdate)
}

// Compile-time check that the cache satisfies MembershipStore.
var _ MembershipStore = (*MembershipCache)(nil)
