package menu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// node builds a listed menu; parent 0 means root
func node(id int64, code string, parent int64, level, sortOrder int) Node {
	n := Node{
		ID:        id,
		Code:      code,
		Name:      code + " menu",
		NameEn:    code,
		Level:     level,
		SortOrder: sortOrder,
		Active:    true,
		Visible:   true,
	}
	if parent != 0 {
		n.ParentID = ptr(parent)
	}
	return n
}

func read(menuID int64, role string) Permission {
	return Permission{MenuID: menuID, RoleName: role, CanRead: true}
}

// newTestDirectory loads nodes and grants into a memory-backed directory
func newTestDirectory(t *testing.T, nodes []Node, perms []Permission, opts ...DirectoryOption) (*Directory, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(nil)
	require.NoError(t, store.ReplaceAll(context.Background(), nodes, perms))
	dir := NewDirectory(store, opts...)
	require.NoError(t, dir.Load(context.Background()))
	return dir, store
}
