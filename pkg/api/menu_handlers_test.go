package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/menu"
	"github.com/govrec/govrec/pkg/security"
)

func menuID(t *testing.T, env *testEnv, code string) int64 {
	t.Helper()
	n, err := env.resolver.ByCode(context.Background(), code)
	require.NoError(t, err)
	return n.ID
}

func accessibleCodes(t *testing.T, env *testEnv, path string, cookies ...*http.Cookie) []string {
	t.Helper()
	w := env.do(t, http.MethodGet, path, nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var menus []menu.AccessibleMenu
	decode(t, w, &menus)
	codes := make([]string, 0, len(menus))
	for _, m := range menus {
		codes = append(codes, m.Code)
	}
	return codes
}

func TestAccessibleMenus(t *testing.T) {
	env := newTestEnv(t)

	userCodes := accessibleCodes(t, env, "/menus/accessible?role=USER")
	assert.Contains(t, userCodes, "DASHBOARD")
	assert.Contains(t, userCodes, "MEETING_MINUTES")
	assert.NotContains(t, userCodes, "SYSTEM")
	assert.Equal(t, "DASHBOARD", userCodes[0], "roots come first in sort order")

	adminCodes := accessibleCodes(t, env, "/menus/accessible?role=ROLE_ADMIN")
	assert.Contains(t, adminCodes, "MENU_MANAGEMENT")
	assert.NotContains(t, adminCodes, "AUDIT_LOG", "hidden menus are not listed")

	assert.Empty(t, accessibleCodes(t, env, "/menus/accessible?role=GUEST"))
}

func TestAccessibleMenus_DefaultsToCallerRole(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/menus/accessible", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "anonymous callers must name a role")
	assert.Equal(t, errutil.CodeValidation, errorCode(t, w))

	admin := env.login(t, "root", adminPassword, false)
	assert.Contains(t, accessibleCodes(t, env, "/menus/accessible", admin), "SYSTEM")

	user := env.login(t, "alice", alicePassword, false)
	assert.NotContains(t, accessibleCodes(t, env, "/menus/accessible", user), "SYSTEM")
}

func TestAccessibleMenus_MergesCallerRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, "carol", "inspector-gadget", "auditor", "user")

	system, err := env.resolver.ByCode(ctx, "SYSTEM")
	require.NoError(t, err)
	_, err = env.directory.Grant(ctx, menu.Permission{MenuID: system.ID, RoleName: "ROLE_AUDITOR", CanRead: true})
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/auth/login", map[string]interface{}{
		"identifier": "carol", "password": "inspector-gadget",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data loginData
	decode(t, w, &data)
	assert.Equal(t, []string{"ROLE_AUDITOR", security.RoleUser}, data.Authorities)

	loginCodes := make([]string, 0, len(data.AccessibleMenus))
	for _, m := range data.AccessibleMenus {
		loginCodes = append(loginCodes, m.Code)
	}
	assert.Contains(t, loginCodes, "SYSTEM", "auditor grants are included")
	assert.Contains(t, loginCodes, "DASHBOARD", "user grants are included")

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, loginCodes, accessibleCodes(t, env, "/menus/accessible", cookie))

	assert.Equal(t, []string{"SYSTEM"}, accessibleCodes(t, env, "/menus/accessible?role=AUDITOR", cookie),
		"an explicit role narrows the result to that role")
}

func TestAccessibleMenus_Fallback(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		d.Resolver = menu.NewResolver(d.Directory, menu.WithFallbackPolicy(menu.FallbackAllVisible))
	})

	w := env.do(t, http.MethodGet, "/menus/accessible?role=GUEST", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var menus []menu.AccessibleMenu
	decode(t, w, &menus)
	require.NotEmpty(t, menus)
	for _, m := range menus {
		assert.True(t, m.CanRead)
		assert.False(t, m.CanWrite)
		assert.False(t, m.CanDelete)
	}
}

func TestAccessibleTree(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/menus/accessible/tree?role=ROLE_USER", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tree []*menu.AccessibleTreeNode
	decode(t, w, &tree)
	require.NotEmpty(t, tree)
	for _, root := range tree {
		assert.Nil(t, root.ParentID)
		for _, child := range root.Children {
			require.NotNil(t, child.ParentID)
			assert.Equal(t, root.ID, *child.ParentID)
		}
	}
}

func TestHierarchy(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/menus/hierarchy", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tree []*menu.TreeNode
	decode(t, w, &tree)
	require.NotEmpty(t, tree)

	var walk func(nodes []*menu.TreeNode, level int)
	walk = func(nodes []*menu.TreeNode, level int) {
		for i, n := range nodes {
			assert.Equal(t, level, n.Level, n.Code)
			if i > 0 {
				assert.LessOrEqual(t, nodes[i-1].SortOrder, n.SortOrder)
			}
			walk(n.Children, level+1)
		}
	}
	walk(tree, 1)
}

func TestRootsChildrenAndLookup(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/menus/root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roots []menu.Node
	decode(t, w, &roots)
	for _, n := range roots {
		assert.True(t, n.IsRoot())
	}

	orgID := menuID(t, env, "ORGANIZATION")
	w = env.do(t, http.MethodGet, fmt.Sprintf("/menus/%d/children", orgID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var children []menu.Node
	decode(t, w, &children)
	require.Len(t, children, 2)
	assert.Equal(t, "DEPARTMENTS", children[0].Code)
	assert.Equal(t, "POSITIONS", children[1].Code)

	w = env.do(t, http.MethodGet, "/menus/999999/children", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/menus/code/DASHBOARD", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dashboard menu.Node
	decode(t, w, &dashboard)
	assert.Equal(t, "Dashboard", dashboard.NameEn)

	w = env.do(t, http.MethodGet, "/menus/code/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errutil.CodeNotFound, errorCode(t, w))
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/menus/search?keyword=MEETING", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found []menu.Node
	decode(t, w, &found)
	assert.Len(t, found, 3)

	w = env.do(t, http.MethodGet, "/menus/search?keyword="+url.QueryEscape("회의록"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "MEETING_MINUTES", found[0].Code)

	w = env.do(t, http.MethodGet, "/menus/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMenuAdmin_Gates(t *testing.T) {
	env := newTestEnv(t)
	id := menuID(t, env, "DASHBOARD")
	path := fmt.Sprintf("/menus/%d/hide", id)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPut, path, nil).Code)

	user := env.login(t, "alice", alicePassword, false)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPut, path, nil, user).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/menus/reinitialize", nil, user).Code)

	denied := env.audit.EventsOfType(audit.EventTypeAuthzAccessDenied)
	require.Len(t, denied, 2)
	assert.Equal(t, "alice", denied[0].Actor)
}

func TestMenuAdmin_Transitions(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", adminPassword, false)
	id := menuID(t, env, "DASHBOARD")

	w := env.do(t, http.MethodPut, fmt.Sprintf("/menus/%d/hide", id), nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var node menu.Node
	decode(t, w, &node)
	assert.False(t, node.Visible)
	assert.Equal(t, "root", node.UpdatedBy)
	assert.NotContains(t, accessibleCodes(t, env, "/menus/accessible?role=USER"), "DASHBOARD")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, fmt.Sprintf("/menus/%d/show", id), nil, admin).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, fmt.Sprintf("/menus/%d/deactivate", id), nil, admin).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/menus/code/DASHBOARD", nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, fmt.Sprintf("/menus/%d/activate", id), nil, admin).Code)
	assert.Contains(t, accessibleCodes(t, env, "/menus/accessible?role=USER"), "DASHBOARD")

	assert.Len(t, env.audit.EventsOfType(audit.EventTypeMenuHide), 1)
	assert.Len(t, env.audit.EventsOfType(audit.EventTypeMenuDeactivate), 1)

	w = env.do(t, http.MethodPut, "/menus/999999/activate", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMenuAdmin_GrantAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", adminPassword, false)
	id := menuID(t, env, "USER_MANAGEMENT")

	w := env.do(t, http.MethodPut, fmt.Sprintf("/menus/%d/permissions", id), map[string]interface{}{
		"roleName": "user", "canRead": true,
	}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var perm menu.Permission
	decode(t, w, &perm)
	assert.Equal(t, security.RoleUser, perm.RoleName)
	assert.Contains(t, accessibleCodes(t, env, "/menus/accessible?role=USER"), "USER_MANAGEMENT")

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/menus/%d/permissions/USER", id), nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, accessibleCodes(t, env, "/menus/accessible?role=USER"), "USER_MANAGEMENT")

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/menus/%d/permissions/USER", id), nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPut, fmt.Sprintf("/menus/%d/permissions", id), map[string]interface{}{
		"roleName": " ", "canRead": true,
	}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMenuAdmin_Reinitialize(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", adminPassword, false)

	id := menuID(t, env, "DASHBOARD")
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, fmt.Sprintf("/menus/%d/deactivate", id), nil, admin).Code)
	before := env.directory.Version()

	w := env.do(t, http.MethodPost, "/menus/reinitialize", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Version uint64 `json:"version"`
	}
	decode(t, w, &result)
	assert.Greater(t, result.Version, before)

	assert.Contains(t, accessibleCodes(t, env, "/menus/accessible?role=USER"), "DASHBOARD")
	assert.Len(t, env.audit.EventsOfType(audit.EventTypeMenuReinitialize), 2)
}
