package menu

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/security"
)

// Directory holds the published menu snapshot. Reads never block; every
// write goes to the Store first and then publishes a new snapshot.
type Directory struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger

	current atomic.Pointer[snapshot]
	version atomic.Uint64
	writeMu sync.Mutex
	loads   singleflight.Group
}

// DirectoryOption configures a Directory
type DirectoryOption func(*Directory)

// WithDirectoryLogger sets the logger
func WithDirectoryLogger(l *observability.Logger) DirectoryOption {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDirectoryMetrics records snapshot loads
func WithDirectoryMetrics(m *observability.Metrics) DirectoryOption {
	return func(d *Directory) { d.metrics = m }
}

// WithDirectoryAudit records menu changes
func WithDirectoryAudit(l audit.Logger) DirectoryOption {
	return func(d *Directory) {
		if l != nil {
			d.audit = l
		}
	}
}

// NewDirectory creates a directory over store. Nothing is loaded until the
// first read or an explicit Load.
func NewDirectory(store Store, opts ...DirectoryOption) *Directory {
	d := &Directory{
		store:  store,
		logger: observability.NewNopLogger(),
		audit:  audit.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Version returns the published snapshot version, 0 before the first load
func (d *Directory) Version() uint64 {
	if s := d.current.Load(); s != nil {
		return s.version
	}
	return 0
}

// loadTimeout bounds a shared load once it no longer follows any caller's
// cancellation
const loadTimeout = 30 * time.Second

// Load reads the store and publishes a fresh snapshot. Concurrent callers
// share one load. A caller whose ctx ends stops waiting, but the shared load
// runs on so the callers still waiting get its result.
func (d *Directory) Load(ctx context.Context) error {
	ch := d.loads.DoChan("load", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		d.writeMu.Lock()
		defer d.writeMu.Unlock()
		return nil, d.loadLocked(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Directory) loadLocked(ctx context.Context) error {
	nodes, perms, err := d.store.LoadAll(ctx)
	if err != nil {
		d.recordLoad("error")
		return fmt.Errorf("failed to load menus: %w", err)
	}
	snap, err := buildSnapshot(d.version.Add(1), nodes, perms)
	if err != nil {
		d.recordLoad("invalid")
		return fmt.Errorf("invalid menu structure: %w", err)
	}
	d.publish(snap)
	d.recordLoad("success")
	d.logger.WithFields(map[string]interface{}{
		"version": snap.version,
		"menus":   len(snap.nodes),
	}).Debug("menu snapshot loaded")
	return nil
}

func (d *Directory) publish(s *snapshot) {
	d.current.Store(s)
	if d.metrics != nil {
		d.metrics.MenuSnapshotNodes.Set(float64(len(s.nodes)))
	}
}

func (d *Directory) recordLoad(result string) {
	if d.metrics != nil {
		d.metrics.MenuSnapshotLoadsTotal.WithLabelValues(result).Inc()
	}
}

// Len returns the number of menus in the published snapshot, loading it on
// first use
func (d *Directory) Len(ctx context.Context) (int, error) {
	s, err := d.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(s.nodes), nil
}

// snapshot returns the published snapshot, loading it on first use
func (d *Directory) snapshot(ctx context.Context) (*snapshot, error) {
	if s := d.current.Load(); s != nil {
		return s, nil
	}
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	return d.current.Load(), nil
}

// Activate marks a menu active
func (d *Directory) Activate(ctx context.Context, id int64) (Node, error) {
	return d.setFlag(ctx, id, audit.EventTypeMenuActivate, "active", true, d.store.SetActive)
}

// Deactivate marks a menu inactive; it stays stored but leaves every listing
func (d *Directory) Deactivate(ctx context.Context, id int64) (Node, error) {
	return d.setFlag(ctx, id, audit.EventTypeMenuDeactivate, "active", false, d.store.SetActive)
}

// Show marks a menu visible
func (d *Directory) Show(ctx context.Context, id int64) (Node, error) {
	return d.setFlag(ctx, id, audit.EventTypeMenuShow, "visible", true, d.store.SetVisible)
}

// Hide marks a menu hidden
func (d *Directory) Hide(ctx context.Context, id int64) (Node, error) {
	return d.setFlag(ctx, id, audit.EventTypeMenuHide, "visible", false, d.store.SetVisible)
}

type flagSetter func(ctx context.Context, id int64, value bool) (Node, error)

func (d *Directory) setFlag(ctx context.Context, id int64, event audit.EventType, field string, value bool, set flagSetter) (Node, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	snap, err := d.lockedSnapshot(ctx)
	if err != nil {
		return Node{}, err
	}
	before, ok := snap.nodes[id]
	if !ok {
		return Node{}, errutil.NotFound("menu", strconv.FormatInt(id, 10))
	}

	updated, err := set(ctx, id, value)
	if errors.Is(err, ErrMenuNotFound) {
		return Node{}, errutil.NotFound("menu", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return Node{}, err
	}

	next, err := snap.withNode(d.version.Add(1), updated)
	if err != nil {
		return Node{}, fmt.Errorf("invalid menu structure: %w", err)
	}
	d.publish(next)

	d.record(ctx, event, audit.ResourceTypeMenu, strconv.FormatInt(id, 10),
		&audit.ChangeDetails{
			Before: map[string]interface{}{field: flagValue(before, field)},
			After:  map[string]interface{}{field: value},
		},
		fmt.Sprintf("menu %s %s", updated.Code, event))
	return updated.Clone(), nil
}

func flagValue(n Node, field string) bool {
	if field == "active" {
		return n.Active
	}
	return n.Visible
}

// Grant creates or replaces the role's flags on a menu
func (d *Directory) Grant(ctx context.Context, p Permission) (Permission, error) {
	p.RoleName = security.NormalizeRole(p.RoleName)
	if p.RoleName == "" {
		return Permission{}, errutil.Validation("roleName", "is required")
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	snap, err := d.lockedSnapshot(ctx)
	if err != nil {
		return Permission{}, err
	}
	if _, ok := snap.nodes[p.MenuID]; !ok {
		return Permission{}, errutil.NotFound("menu", strconv.FormatInt(p.MenuID, 10))
	}
	before, existed := snap.grant(p.MenuID, p.RoleName)

	stored, err := d.store.UpsertPermission(ctx, p)
	if errors.Is(err, ErrMenuNotFound) {
		return Permission{}, errutil.NotFound("menu", strconv.FormatInt(p.MenuID, 10))
	}
	if err != nil {
		return Permission{}, err
	}

	next, err := snap.withPermission(d.version.Add(1), stored)
	if err != nil {
		return Permission{}, fmt.Errorf("invalid menu structure: %w", err)
	}
	d.publish(next)

	changes := &audit.ChangeDetails{After: grantFields(stored)}
	if existed {
		changes.Before = grantFields(before)
	}
	d.record(ctx, audit.EventTypeAuthzPermissionGrant, audit.ResourceTypePermission,
		permissionResourceID(stored.MenuID, stored.RoleName), changes,
		fmt.Sprintf("menu grant set for %s", stored.RoleName))
	return stored, nil
}

// Revoke removes the role's grant on a menu
func (d *Directory) Revoke(ctx context.Context, menuID int64, role string) error {
	role = security.NormalizeRole(role)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	snap, err := d.lockedSnapshot(ctx)
	if err != nil {
		return err
	}
	before, ok := snap.grant(menuID, role)
	if !ok {
		return errutil.NotFound("menu permission", permissionResourceID(menuID, role))
	}

	err = d.store.DeletePermission(ctx, menuID, role)
	if errors.Is(err, ErrPermissionNotFound) {
		return errutil.NotFound("menu permission", permissionResourceID(menuID, role))
	}
	if err != nil {
		return err
	}

	next, err := snap.withoutPermission(d.version.Add(1), menuID, role)
	if err != nil {
		return fmt.Errorf("invalid menu structure: %w", err)
	}
	d.publish(next)

	d.record(ctx, audit.EventTypeAuthzPermissionRevoke, audit.ResourceTypePermission,
		permissionResourceID(menuID, role), &audit.ChangeDetails{Before: grantFields(before)},
		fmt.Sprintf("menu grant revoked for %s", role))
	return nil
}

// Reinitialize replaces every menu and grant with the built-in defaults
func (d *Directory) Reinitialize(ctx context.Context) error {
	nodes, perms, err := DefaultSeed()
	if err != nil {
		return err
	}
	// validate before the destructive write
	if _, err := buildSnapshot(0, nodes, perms); err != nil {
		return fmt.Errorf("invalid default menus: %w", err)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.store.ReplaceAll(ctx, nodes, perms); err != nil {
		return fmt.Errorf("failed to reinitialize menus: %w", err)
	}
	if err := d.loadLocked(ctx); err != nil {
		return err
	}

	d.record(ctx, audit.EventTypeMenuReinitialize, audit.ResourceTypeMenu, "*",
		&audit.ChangeDetails{After: map[string]interface{}{"menus": len(nodes), "grants": len(perms)}},
		"menus reinitialized to defaults")
	d.logger.WithFields(map[string]interface{}{
		"menus":  len(nodes),
		"grants": len(perms),
	}).Warn("menus reinitialized to defaults")
	return nil
}

// lockedSnapshot returns the current snapshot; writeMu must be held
func (d *Directory) lockedSnapshot(ctx context.Context) (*snapshot, error) {
	if s := d.current.Load(); s != nil {
		return s, nil
	}
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}
	return d.current.Load(), nil
}

func grantFields(p Permission) map[string]interface{} {
	return map[string]interface{}{
		"canRead":   p.CanRead,
		"canWrite":  p.CanWrite,
		"canDelete": p.CanDelete,
	}
}

func permissionResourceID(menuID int64, role string) string {
	return strconv.FormatInt(menuID, 10) + ":" + role
}

func (d *Directory) record(ctx context.Context, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, message string) {
	if err := d.audit.LogDataMutation(ctx, eventType, resourceType, resourceID, changes, message); err != nil {
		d.logger.WithError(err).Warn("failed to write audit event")
	}
}
