// Package menu resolves which application menus a role may see.
//
// Menus form a tree linked only by ParentID. The Directory keeps an immutable
// snapshot of every node and grant; readers use whatever snapshot is
// published while writers persist through a Store and swap in a rebuilt one,
// so a reader never sees a half-applied change. Snapshots are validated on
// build: cycles, dangling parents and levels that do not match depth are
// rejected.
//
// The Resolver serves the read side:
//
//	menus, err := resolver.AccessibleMenus(ctx, "ROLE_USER")
//	tree, err := resolver.Hierarchy(ctx)
//
// A role with no read grants gets an empty list unless the resolver is built
// with WithFallbackPolicy(FallbackAllVisible), in which case non-admin roles
// receive every active, visible menu read-only and a warning is logged.
package menu
