package menu

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/security"
)

func TestDirectory_StateTransitions(t *testing.T) {
	recorder := audit.NewRecordingLogger(0)
	dir, store := newTestDirectory(t, []Node{node(1, "M1", 0, 1, 1)}, []Permission{read(1, "ROLE_USER")},
		WithDirectoryAudit(recorder))
	r := NewResolver(dir)
	ctx := security.WithIdentity(context.Background(), &security.Identity{
		Principal: "admin", UserID: 1, Authenticated: true, Authorities: []string{security.RoleAdmin},
	})

	v := dir.Version()
	hidden, err := dir.Hide(ctx, 1)
	require.NoError(t, err)
	assert.False(t, hidden.Visible)
	assert.True(t, hidden.Active)
	assert.Equal(t, "admin", hidden.UpdatedBy)
	assert.Greater(t, dir.Version(), v)

	menus, err := r.AccessibleMenus(ctx, "ROLE_USER")
	require.NoError(t, err)
	assert.Empty(t, menus, "hidden menus are not listed")
	byCode, err := r.ByCode(ctx, "M1")
	require.NoError(t, err, "hidden menus stay readable")
	assert.False(t, byCode.Visible)

	_, err = dir.Show(ctx, 1)
	require.NoError(t, err)
	_, err = dir.Deactivate(ctx, 1)
	require.NoError(t, err)
	_, err = r.ByCode(ctx, "M1")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	nodes, _, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "inactive menus stay stored")
	assert.False(t, nodes[0].Active)
	assert.True(t, nodes[0].Visible)

	_, err = dir.Activate(ctx, 1)
	require.NoError(t, err)
	menus, err = r.AccessibleMenus(ctx, "ROLE_USER")
	require.NoError(t, err)
	assert.Len(t, menus, 1)

	events := recorder.Events()
	require.Len(t, events, 4)
	assert.Equal(t, audit.EventTypeMenuHide, events[0].EventType)
	assert.Equal(t, "admin", events[0].Actor)
	assert.Equal(t, "1", events[0].ResourceID)
	assert.Equal(t, map[string]interface{}{"visible": true}, events[0].Changes.Before)
	assert.Equal(t, map[string]interface{}{"visible": false}, events[0].Changes.After)
	assert.Equal(t, audit.EventTypeMenuShow, events[1].EventType)
	assert.Equal(t, audit.EventTypeMenuDeactivate, events[2].EventType)
	assert.Equal(t, audit.EventTypeMenuActivate, events[3].EventType)
}

func TestDirectory_UnknownMenu(t *testing.T) {
	dir, _ := newTestDirectory(t, []Node{node(1, "M1", 0, 1, 1)}, nil)
	ctx := context.Background()

	_, err := dir.Activate(ctx, 42)
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	_, err = dir.Grant(ctx, read(42, "ROLE_USER"))
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	err = dir.Revoke(ctx, 1, "ROLE_USER")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	_, err = dir.Grant(ctx, read(1, " "))
	errutil.AssertErrorCode(t, err, errutil.CodeValidation)
}

func TestDirectory_GrantAndRevoke(t *testing.T) {
	recorder := audit.NewRecordingLogger(0)
	dir, store := newTestDirectory(t, []Node{node(1, "M1", 0, 1, 1)}, nil, WithDirectoryAudit(recorder))
	r := NewResolver(dir)
	ctx := context.Background()

	p, err := dir.Grant(ctx, Permission{MenuID: 1, RoleName: "auditor", CanRead: true})
	require.NoError(t, err)
	assert.Equal(t, "ROLE_AUDITOR", p.RoleName)
	assert.NotZero(t, p.ID)

	p2, err := dir.Grant(ctx, Permission{MenuID: 1, RoleName: "ROLE_AUDITOR", CanRead: true, CanWrite: true})
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID, "grant upserts on (menu, role)")

	menus, err := r.AccessibleMenus(ctx, "auditor")
	require.NoError(t, err)
	require.Len(t, menus, 1)
	assert.True(t, menus[0].CanWrite)

	require.NoError(t, dir.Revoke(ctx, 1, "Auditor"))
	menus, err = r.AccessibleMenus(ctx, "auditor")
	require.NoError(t, err)
	assert.Empty(t, menus)

	_, perms, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, perms)

	grants := recorder.EventsOfType(audit.EventTypeAuthzPermissionGrant)
	require.Len(t, grants, 2)
	assert.Nil(t, grants[0].Changes.Before)
	assert.Equal(t, false, grants[1].Changes.Before["canWrite"])
	assert.Equal(t, true, grants[1].Changes.After["canWrite"])
	assert.Equal(t, "1:ROLE_AUDITOR", grants[1].ResourceID)
	assert.Len(t, recorder.EventsOfType(audit.EventTypeAuthzPermissionRevoke), 1)
}

func TestDirectory_Reinitialize(t *testing.T) {
	recorder := audit.NewRecordingLogger(0)
	dir, _ := newTestDirectory(t, []Node{node(1, "LEGACY", 0, 1, 1)}, nil, WithDirectoryAudit(recorder))
	r := NewResolver(dir)
	ctx := context.Background()

	require.NoError(t, dir.Reinitialize(ctx))

	_, err := r.ByCode(ctx, "LEGACY")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	menus, err := r.AccessibleMenus(ctx, "ROLE_USER")
	require.NoError(t, err)
	assert.NotEmpty(t, menus)
	for _, m := range menus {
		assert.NotEqual(t, "SYSTEM", m.Code)
	}

	admin, err := r.AccessibleMenus(ctx, "ROLE_ADMIN")
	require.NoError(t, err)
	assert.Greater(t, len(admin), len(menus))

	assert.Len(t, recorder.EventsOfType(audit.EventTypeMenuReinitialize), 1)
}

func TestDirectory_Len(t *testing.T) {
	ctx := context.Background()

	empty := NewDirectory(NewMemoryStore(nil))
	n, err := empty.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	dir, _ := newTestDirectory(t, []Node{node(1, "M1", 0, 1, 1), node(2, "M2", 1, 2, 1)}, nil)
	_, err = dir.Deactivate(ctx, 2)
	require.NoError(t, err)
	n, err = dir.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "inactive menus are counted")
}

type failingStore struct {
	*MemoryStore
	loadErr error
}

func (s *failingStore) LoadAll(ctx context.Context) ([]Node, []Permission, error) {
	if s.loadErr != nil {
		return nil, nil, s.loadErr
	}
	return s.MemoryStore.LoadAll(ctx)
}

func TestDirectory_LoadFailures(t *testing.T) {
	metrics := observability.NewTestMetrics()
	store := &failingStore{MemoryStore: NewMemoryStore(nil), loadErr: errors.New("connection refused")}
	dir := NewDirectory(store, WithDirectoryMetrics(metrics))
	r := NewResolver(dir)

	_, err := r.Hierarchy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, uint64(0), dir.Version())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MenuSnapshotLoadsTotal.WithLabelValues("error")))

	store.loadErr = nil
	require.NoError(t, store.ReplaceAll(context.Background(),
		[]Node{node(1, "A", 0, 1, 1), node(2, "B", 1, 5, 1)}, nil))
	err = dir.Load(context.Background())
	assert.ErrorContains(t, err, "invalid menu structure")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MenuSnapshotLoadsTotal.WithLabelValues("invalid")))

	require.NoError(t, store.ReplaceAll(context.Background(), []Node{node(1, "A", 0, 1, 1)}, nil))
	require.NoError(t, dir.Load(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MenuSnapshotNodes))
}

func TestDirectory_LazyLoadOnce(t *testing.T) {
	store := NewMemoryStore(nil)
	require.NoError(t, store.ReplaceAll(context.Background(), []Node{node(1, "A", 0, 1, 1)}, nil))
	dir := NewDirectory(store)
	r := NewResolver(dir)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			roots, err := r.Roots(context.Background())
			assert.NoError(t, err)
			assert.Len(t, roots, 1)
		}()
	}
	wg.Wait()
	assert.NotZero(t, dir.Version())
}

// gatedStore blocks LoadAll until released and records the ctx error it saw
type gatedStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
	sawErr  error
}

func (s *gatedStore) LoadAll(ctx context.Context) ([]Node, []Permission, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	s.sawErr = ctx.Err()
	if s.sawErr != nil {
		return nil, nil, s.sawErr
	}
	return s.MemoryStore.LoadAll(ctx)
}

func TestDirectory_LoadSurvivesCancelledCaller(t *testing.T) {
	store := &gatedStore{
		MemoryStore: NewMemoryStore(nil),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	require.NoError(t, store.ReplaceAll(context.Background(), []Node{node(1, "A", 0, 1, 1)}, nil))
	dir := NewDirectory(store)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- dir.Load(first) }()
	<-store.started

	secondErr := make(chan error, 1)
	go func() { secondErr <- dir.Load(context.Background()) }()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled, "the cancelled caller stops waiting")

	close(store.release)
	require.NoError(t, <-secondErr)
	assert.NoError(t, store.sawErr, "the shared load does not inherit the first caller's cancellation")
	assert.NotZero(t, dir.Version())
}
