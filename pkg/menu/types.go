package menu

import (
	"time"
)

// Node is one entry of the menu tree. ParentID is the only link between
// nodes; child lists are derived from it.
type Node struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	NameEn    string    `json:"nameEn,omitempty"`
	ParentID  *int64    `json:"parentId,omitempty"`
	Level     int       `json:"level"`
	SortOrder int       `json:"sortOrder"`
	URL       *string   `json:"url,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	Active    bool      `json:"active"`
	Visible   bool      `json:"visible"`
	CreatedBy string    `json:"createdBy,omitempty"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsRoot reports whether the node has no parent
func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

// Listed reports whether the node is active and visible
func (n Node) Listed() bool {
	return n.Active && n.Visible
}

// Clone returns a deep copy of n
func (n Node) Clone() Node {
	if n.ParentID != nil {
		p := *n.ParentID
		n.ParentID = &p
	}
	if n.URL != nil {
		u := *n.URL
		n.URL = &u
	}
	return n
}

// Permission grants a role read/write/delete flags on one menu.
// (MenuID, RoleName) is unique.
type Permission struct {
	ID        int64  `json:"id"`
	MenuID    int64  `json:"menuId"`
	RoleName  string `json:"roleName"`
	CanRead   bool   `json:"canRead"`
	CanWrite  bool   `json:"canWrite"`
	CanDelete bool   `json:"canDelete"`
}

// AccessibleMenu is a node together with the caller's flags on it
type AccessibleMenu struct {
	Node
	CanRead   bool `json:"canRead"`
	CanWrite  bool `json:"canWrite"`
	CanDelete bool `json:"canDelete"`
}

// TreeNode is a node with its listed children attached
type TreeNode struct {
	Node
	Children []*TreeNode `json:"children"`
}

// AccessibleTreeNode is an accessible menu with its accessible children attached
type AccessibleTreeNode struct {
	AccessibleMenu
	Children []*AccessibleTreeNode `json:"children"`
}

// FallbackPolicy decides what a role with zero read grants receives
type FallbackPolicy string

const (
	// FallbackNone returns an empty list
	FallbackNone FallbackPolicy = "none"
	// FallbackAllVisible returns every listed menu with read-only flags
	FallbackAllVisible FallbackPolicy = "all-visible"
)

// ParseFallbackPolicy parses a configured policy name
func ParseFallbackPolicy(s string) (FallbackPolicy, bool) {
	switch FallbackPolicy(s) {
	case "", FallbackNone:
		return FallbackNone, true
	case FallbackAllVisible:
		return FallbackAllVisible, true
	default:
		return "", false
	}
}
