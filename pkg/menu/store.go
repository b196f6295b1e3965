package menu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/security"
)

var (
	// ErrMenuNotFound is returned when a menu id does not exist
	ErrMenuNotFound = errors.New("menu not found")
	// ErrPermissionNotFound is returned when a (menu, role) grant does not exist
	ErrPermissionNotFound = errors.New("menu permission not found")
)

// Store persists menus and their grants
type Store interface {
	// LoadAll returns every node and every grant
	LoadAll(ctx context.Context) ([]Node, []Permission, error)
	// SetActive updates the active flag and returns the stored node
	SetActive(ctx context.Context, id int64, active bool) (Node, error)
	// SetVisible updates the visible flag and returns the stored node
	SetVisible(ctx context.Context, id int64, visible bool) (Node, error)
	// UpsertPermission creates or replaces the grant for (MenuID, RoleName)
	UpsertPermission(ctx context.Context, p Permission) (Permission, error)
	// DeletePermission removes the grant for (menuID, role)
	DeletePermission(ctx context.Context, menuID int64, role string) error
	// ReplaceAll deletes every node and grant and inserts the given ones
	ReplaceAll(ctx context.Context, nodes []Node, perms []Permission) error
}

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[int64]Node
	perms  map[permKey]Permission
	nextID int64
	actors audit.ActorResolver
	now    func() time.Time
}

type permKey struct {
	menuID int64
	role   string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A nil resolver stamps changes with
// the context identity.
func NewMemoryStore(actors audit.ActorResolver) *MemoryStore {
	if actors == nil {
		actors = audit.NewContextActorResolver()
	}
	return &MemoryStore{
		nodes:  make(map[int64]Node),
		perms:  make(map[permKey]Permission),
		actors: actors,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]Node, []Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	perms := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return nodes, perms, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, id int64, active bool) (Node, error) {
	return s.update(ctx, id, func(n *Node) { n.Active = active })
}

func (s *MemoryStore) SetVisible(ctx context.Context, id int64, visible bool) (Node, error) {
	return s.update(ctx, id, func(n *Node) { n.Visible = visible })
}

func (s *MemoryStore) update(ctx context.Context, id int64, apply func(n *Node)) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, ErrMenuNotFound
	}
	apply(&n)
	n.UpdatedBy = s.actors.CurrentActor(ctx)
	n.UpdatedAt = s.now()
	s.nodes[id] = n
	return n.Clone(), nil
}

func (s *MemoryStore) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	p.RoleName = security.NormalizeRole(p.RoleName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[p.MenuID]; !ok {
		return Permission{}, ErrMenuNotFound
	}
	key := permKey{p.MenuID, p.RoleName}
	if existing, ok := s.perms[key]; ok {
		p.ID = existing.ID
	} else {
		s.nextID++
		p.ID = s.nextID
	}
	s.perms[key] = p
	return p, nil
}

func (s *MemoryStore) DeletePermission(ctx context.Context, menuID int64, role string) error {
	key := permKey{menuID, security.NormalizeRole(role)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.perms[key]; !ok {
		return ErrPermissionNotFound
	}
	delete(s.perms, key)
	return nil
}

func (s *MemoryStore) ReplaceAll(ctx context.Context, nodes []Node, perms []Permission) error {
	actor := s.actors.CurrentActor(ctx)
	now := s.now()

	fresh := make(map[int64]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := fresh[n.ID]; dup {
			return fmt.Errorf("duplicate menu id %d", n.ID)
		}
		n = n.Clone()
		n.CreatedBy, n.UpdatedBy = actor, actor
		n.CreatedAt, n.UpdatedAt = now, now
		fresh[n.ID] = n
	}

	freshPerms := make(map[permKey]Permission, len(perms))
	var nextID int64
	for _, p := range perms {
		if _, ok := fresh[p.MenuID]; !ok {
			return fmt.Errorf("permission references unknown menu %d", p.MenuID)
		}
		p.RoleName = security.NormalizeRole(p.RoleName)
		nextID++
		p.ID = nextID
		freshPerms[permKey{p.MenuID, p.RoleName}] = p
	}

	s.mu.Lock()
	s.nodes, s.perms, s.nextID = fresh, freshPerms, nextID
	s.mu.Unlock()
	return nil
}
