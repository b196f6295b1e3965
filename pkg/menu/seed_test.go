package menu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSeed(t *testing.T) {
	nodes, perms, err := DefaultSeed()
	require.NoError(t, err)
	require.NotEmpty(t, nodes)

	snap, err := buildSnapshot(1, nodes, perms)
	require.NoError(t, err, "default menus must form a valid tree")

	id, ok := snap.byCode["DASHBOARD"]
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, snap.nodes[id].Level)

	userGrant, ok := snap.grant(id, "ROLE_USER")
	require.True(t, ok)
	assert.True(t, userGrant.CanRead)
	assert.False(t, userGrant.CanWrite)

	system := snap.byCode["SYSTEM"]
	_, ok = snap.grant(system, "ROLE_USER")
	assert.False(t, ok, "system menus are admin only")

	audit := snap.nodes[snap.byCode["AUDIT_LOG"]]
	assert.False(t, audit.Visible)
	assert.Equal(t, 2, audit.Level)
	require.NotNil(t, audit.ParentID)
	assert.Equal(t, system, *audit.ParentID)
}

func TestParseSeed(t *testing.T) {
	nodes, perms, err := ParseSeed([]byte(`
menus:
  - code: HOME
    name: Home
    url: /
    grants: {user: r}
    children:
      - code: NEWS
        name: News
        active: false
        grants: {admin: rwd, user: rw}
`))
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Nil(t, nodes[0].ParentID)
	require.NotNil(t, nodes[0].URL)
	assert.Equal(t, "/", *nodes[0].URL)
	assert.Equal(t, int64(1), *nodes[1].ParentID)
	assert.Equal(t, 2, nodes[1].Level)
	assert.False(t, nodes[1].Active)
	assert.True(t, nodes[1].Visible)

	assert.Equal(t, []Permission{
		{MenuID: 1, RoleName: "ROLE_USER", CanRead: true},
		{MenuID: 2, RoleName: "ROLE_ADMIN", CanRead: true, CanWrite: true, CanDelete: true},
		{MenuID: 2, RoleName: "ROLE_USER", CanRead: true, CanWrite: true},
	}, perms)
}

func TestParseSeed_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"not yaml":     "menus: [",
		"missing code": "menus:\n  - name: X\n",
		"repeat code":  "menus:\n  - {code: A, name: A}\n  - {code: A, name: B}\n",
		"bad flag":     "menus:\n  - {code: A, name: A, grants: {user: rx}}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseSeed([]byte(doc))
			assert.Error(t, err)
		})
	}
}
