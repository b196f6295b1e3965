package menu

import (
	"fmt"
	"sort"

	"github.com/govrec/govrec/pkg/security"
)

// snapshot is an immutable view of the directory. Readers share it without
// locking; writers build a new one and swap it in.
type snapshot struct {
	version uint64

	nodes    map[int64]Node
	byCode   map[string]int64
	children map[int64][]int64 // parent id -> child ids by sortOrder
	roots    []int64           // parentless ids by sortOrder
	ordered  []int64           // all ids by level, sortOrder, id
	grants   map[int64]map[string]Permission
}

// buildSnapshot indexes nodes and grants and rejects structures a reader must
// never see: duplicate ids or codes, dangling parents, cycles, and levels that
// do not follow depth.
func buildSnapshot(version uint64, nodes []Node, perms []Permission) (*snapshot, error) {
	s := &snapshot{
		version:  version,
		nodes:    make(map[int64]Node, len(nodes)),
		byCode:   make(map[string]int64, len(nodes)),
		children: make(map[int64][]int64),
		grants:   make(map[int64]map[string]Permission),
	}

	for _, n := range nodes {
		if _, dup := s.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate menu id %d", n.ID)
		}
		if other, dup := s.byCode[n.Code]; dup {
			return nil, fmt.Errorf("menu code %q used by %d and %d", n.Code, other, n.ID)
		}
		s.nodes[n.ID] = n.Clone()
		s.byCode[n.Code] = n.ID
	}

	for _, n := range s.nodes {
		if n.ParentID == nil {
			s.roots = append(s.roots, n.ID)
			continue
		}
		if *n.ParentID == n.ID {
			return nil, fmt.Errorf("menu %s is its own parent", n.Code)
		}
		if _, ok := s.nodes[*n.ParentID]; !ok {
			return nil, fmt.Errorf("menu %s references missing parent %d", n.Code, *n.ParentID)
		}
		s.children[*n.ParentID] = append(s.children[*n.ParentID], n.ID)
	}

	if err := s.checkDepths(); err != nil {
		return nil, err
	}

	s.sortIDs(s.roots)
	for _, ids := range s.children {
		s.sortIDs(ids)
	}

	s.ordered = make([]int64, 0, len(s.nodes))
	for id := range s.nodes {
		s.ordered = append(s.ordered, id)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		a, b := s.nodes[s.ordered[i]], s.nodes[s.ordered[j]]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})

	for _, p := range perms {
		if _, ok := s.nodes[p.MenuID]; !ok {
			return nil, fmt.Errorf("permission %d references missing menu %d", p.ID, p.MenuID)
		}
		p.RoleName = security.NormalizeRole(p.RoleName)
		byRole, ok := s.grants[p.MenuID]
		if !ok {
			byRole = make(map[string]Permission)
			s.grants[p.MenuID] = byRole
		}
		byRole[p.RoleName] = p
	}

	return s, nil
}

// checkDepths walks down from the roots. A node never reached sits on a cycle.
func (s *snapshot) checkDepths() error {
	seen := make(map[int64]bool, len(s.nodes))
	queue := append([]int64(nil), s.roots...)
	for _, id := range s.roots {
		if lvl := s.nodes[id].Level; lvl != 1 {
			return fmt.Errorf("root menu %s has level %d, want 1", s.nodes[id].Code, lvl)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen[id] = true

		parent := s.nodes[id]
		for _, childID := range s.children[id] {
			child := s.nodes[childID]
			if child.Level != parent.Level+1 {
				return fmt.Errorf("menu %s has level %d under %s at level %d",
					child.Code, child.Level, parent.Code, parent.Level)
			}
			queue = append(queue, childID)
		}
	}

	if len(seen) != len(s.nodes) {
		for id, n := range s.nodes {
			if !seen[id] {
				return fmt.Errorf("menu %s is part of a parent cycle", n.Code)
			}
		}
	}
	return nil
}

func (s *snapshot) sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.nodes[ids[i]], s.nodes[ids[j]]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
}

// grant returns the role's grant on a menu
func (s *snapshot) grant(menuID int64, role string) (Permission, bool) {
	p, ok := s.grants[menuID][role]
	return p, ok
}

// nodeList returns every node in id order
func (s *snapshot) nodeList() []Node {
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// permList returns every grant in id order
func (s *snapshot) permList() []Permission {
	var out []Permission
	for _, byRole := range s.grants {
		for _, p := range byRole {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].RoleName < out[j].RoleName
	})
	return out
}

// withNode returns a copy of s with n replacing the node of the same id
func (s *snapshot) withNode(version uint64, n Node) (*snapshot, error) {
	nodes := s.nodeList()
	for i := range nodes {
		if nodes[i].ID == n.ID {
			nodes[i] = n
		}
	}
	return buildSnapshot(version, nodes, s.permList())
}

// withPermission returns a copy of s with p inserted or replaced
func (s *snapshot) withPermission(version uint64, p Permission) (*snapshot, error) {
	perms := s.permList()
	replaced := false
	for i := range perms {
		if perms[i].MenuID == p.MenuID && perms[i].RoleName == p.RoleName {
			perms[i] = p
			replaced = true
		}
	}
	if !replaced {
		perms = append(perms, p)
	}
	return buildSnapshot(version, s.nodeList(), perms)
}

// withoutPermission returns a copy of s without the (menuID, role) grant
func (s *snapshot) withoutPermission(version uint64, menuID int64, role string) (*snapshot, error) {
	perms := s.permList()
	kept := perms[:0]
	for _, p := range perms {
		if p.MenuID == menuID && p.RoleName == role {
			continue
		}
		kept = append(kept, p)
	}
	return buildSnapshot(version, s.nodeList(), kept)
}
