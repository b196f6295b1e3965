package menu

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/security"
)

// Accessible-menu cache defaults
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 5 * time.Minute
)

// Resolver answers menu reads against the directory's published snapshot.
// Inactive menus are invisible to every query.
type Resolver struct {
	dir     *Directory
	policy  FallbackPolicy
	cache   *expirable.LRU[string, []AccessibleMenu]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithFallbackPolicy sets what a role with zero read grants receives
func WithFallbackPolicy(p FallbackPolicy) ResolverOption {
	return func(r *Resolver) { r.policy = p }
}

// WithAccessibleCache sizes the per-role cache; size <= 0 disables it
func WithAccessibleCache(size int, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if size <= 0 {
			r.cache = nil
			return
		}
		r.cache = expirable.NewLRU[string, []AccessibleMenu](size, nil, ttl)
	}
}

// WithResolverLogger sets the logger
func WithResolverLogger(l *observability.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResolverMetrics records cache and fallback counters
func WithResolverMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver over dir
func NewResolver(dir *Directory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dir:    dir,
		policy: FallbackNone,
		cache:  expirable.NewLRU[string, []AccessibleMenu](DefaultCacheSize, nil, DefaultCacheTTL),
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the configured fallback policy
func (r *Resolver) Policy() FallbackPolicy {
	return r.policy
}

// AccessibleMenus returns the active, visible menus readable by any of the
// roles, ordered by level, sort order and id. A menu readable by several
// roles carries the union of their flags. The fallback policy applies only
// when none of the roles has a read grant.
func (r *Resolver) AccessibleMenus(ctx context.Context, roles ...string) (menus []AccessibleMenu, err error) {
	roles = normalizeRoles(roles)
	if len(roles) == 0 {
		return nil, errutil.Validation("role", "is required")
	}
	key := strings.Join(roles, ",")

	ctx, span := observability.StartSpan(ctx, "menu.AccessibleMenus", attribute.String("role", key))
	defer func() { observability.EndSpan(span, err) }()

	snap, err := r.dir.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	cacheKey := strconv.FormatUint(snap.version, 10) + "|" + key
	if r.cache != nil {
		if cached, ok := r.cache.Get(cacheKey); ok {
			r.cacheResult(true)
			return copyAccessible(cached), nil
		}
		r.cacheResult(false)
	}

	menus = r.accessible(snap, roles)
	if r.cache != nil {
		r.cache.Add(cacheKey, menus)
	}
	return copyAccessible(menus), nil
}

// normalizeRoles normalizes, deduplicates and sorts role names, dropping blanks
func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, role := range roles {
		role = security.NormalizeRole(role)
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) accessible(snap *snapshot, roles []string) []AccessibleMenu {
	out := []AccessibleMenu{}
	for _, id := range snap.ordered {
		n := snap.nodes[id]
		if !n.Listed() {
			continue
		}
		m := AccessibleMenu{Node: n}
		for _, role := range roles {
			p, ok := snap.grant(id, role)
			if !ok || !p.CanRead {
				continue
			}
			m.CanRead = true
			m.CanWrite = m.CanWrite || p.CanWrite
			m.CanDelete = m.CanDelete || p.CanDelete
		}
		if m.CanRead {
			out = append(out, m)
		}
	}
	if len(out) > 0 {
		return out
	}

	label := strings.Join(roles, ",")
	log := r.logger.WithField("role", label)
	if r.policy != FallbackAllVisible || containsRole(roles, security.RoleAdmin) {
		log.Info("no menu grants for role")
		return out
	}

	for _, id := range snap.ordered {
		if n := snap.nodes[id]; n.Listed() {
			out = append(out, AccessibleMenu{Node: n, CanRead: true})
		}
	}
	log.WithField("menus", len(out)).Warn("menu grant fallback applied")
	if r.metrics != nil {
		r.metrics.MenuFallbackTotal.WithLabelValues(label).Inc()
	}
	return out
}

func containsRole(roles []string, want string) bool {
	for _, role := range roles {
		if role == want {
			return true
		}
	}
	return false
}

func (r *Resolver) cacheResult(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.MenuCacheHitsTotal.Inc()
	} else {
		r.metrics.MenuCacheMissesTotal.Inc()
	}
}

// AccessibleTree arranges the roles' accessible menus as a tree. A menu whose
// parent is not accessible becomes a root.
func (r *Resolver) AccessibleTree(ctx context.Context, roles ...string) ([]*AccessibleTreeNode, error) {
	menus, err := r.AccessibleMenus(ctx, roles...)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*AccessibleTreeNode, len(menus))
	roots := []*AccessibleTreeNode{}
	// menus are ordered by level, so parents are indexed before their children
	for _, m := range menus {
		tn := &AccessibleTreeNode{AccessibleMenu: m, Children: []*AccessibleTreeNode{}}
		byID[m.ID] = tn
		if m.ParentID != nil {
			if parent, ok := byID[*m.ParentID]; ok {
				parent.Children = append(parent.Children, tn)
				continue
			}
		}
		roots = append(roots, tn)
	}
	return roots, nil
}

// Hierarchy returns every active root with its active, visible descendants,
// ordered by sort order at each level. No role filtering is applied.
func (r *Resolver) Hierarchy(ctx context.Context) ([]*TreeNode, error) {
	snap, err := r.dir.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	roots := []*TreeNode{}
	for _, id := range snap.roots {
		n := snap.nodes[id]
		if !n.Active {
			continue
		}
		roots = append(roots, buildTree(snap, n))
	}
	return roots, nil
}

// buildTree attaches listed children; snapshots are acyclic so recursion ends
func buildTree(snap *snapshot, n Node) *TreeNode {
	tn := &TreeNode{Node: n.Clone(), Children: []*TreeNode{}}
	for _, childID := range snap.children[n.ID] {
		child := snap.nodes[childID]
		if !child.Listed() {
			continue
		}
		tn.Children = append(tn.Children, buildTree(snap, child))
	}
	return tn
}

// Roots returns the active parentless menus
func (r *Resolver) Roots(ctx context.Context) ([]Node, error) {
	snap, err := r.dir.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return activeNodes(snap, snap.roots), nil
}

// Children returns the active children of an active menu
func (r *Resolver) Children(ctx context.Context, parentID int64) ([]Node, error) {
	snap, err := r.dir.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if parent, ok := snap.nodes[parentID]; !ok || !parent.Active {
		return nil, errutil.NotFound("menu", strconv.FormatInt(parentID, 10))
	}
	return activeNodes(snap, snap.children[parentID]), nil
}

// ByID returns an active menu
func (r *Resolver) ByID(ctx context.Context, id int64) (Node, error) {
	snap, err := r.dir.snapshot(ctx)
	if err != nil {
		return Node{}, err
	}
	n, ok := snap.nodes[id]
	if !ok || !n.Active {
		return Node{}, errutil.NotFound("menu", strconv.FormatInt(id, 10))
	}
	return n.Clone(), nil
}

// ByCode returns an active menu by its unique code
func (r *Resolver) ByCode(ctx context.Context, code string) (Node, error) {
	snap, err := r.dir.snapshot(ctx)
	if err != nil {
		return Node{}, err
	}
	id, ok := snap.byCode[code]
	if !ok || !snap.nodes[id].Active {
		return Node{}, errutil.NotFound("menu", code)
	}
	return snap.nodes[id].Clone(), nil
}

// Search returns active menus whose name or English name contains keyword,
// ignoring case
func (r *Resolver) Search(ctx context.Context, keyword string) ([]Node, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, errutil.Validation("keyword", "is required")
	}

	snap, err := r.dir.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := []Node{}
	for _, id := range snap.ordered {
		n := snap.nodes[id]
		if !n.Active {
			continue
		}
		if strings.Contains(strings.ToLower(n.Name), keyword) || strings.Contains(strings.ToLower(n.NameEn), keyword) {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func activeNodes(snap *snapshot, ids []int64) []Node {
	out := []Node{}
	for _, id := range ids {
		if n := snap.nodes[id]; n.Active {
			out = append(out, n.Clone())
		}
	}
	return out
}

func copyAccessible(in []AccessibleMenu) []AccessibleMenu {
	out := make([]AccessibleMenu, len(in))
	for i, m := range in {
		m.Node = m.Node.Clone()
		out[i] = m
	}
	return out
}
