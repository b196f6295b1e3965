package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/govrec/govrec/pkg/httputil"
	"github.com/govrec/govrec/pkg/menu"
	"github.com/govrec/govrec/pkg/middleware"
	"github.com/govrec/govrec/pkg/security"
)

// MenuHandlers handles menu HTTP requests
type MenuHandlers struct {
	directory *menu.Directory
	resolver  *menu.Resolver
}

// NewMenuHandlers creates a new menu handlers instance
func NewMenuHandlers(directory *menu.Directory, resolver *menu.Resolver) *MenuHandlers {
	return &MenuHandlers{directory: directory, resolver: resolver}
}

// RegisterRoutes registers menu routes
func (h *MenuHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/menus/accessible", h.accessible).Methods(http.MethodGet)
	router.HandleFunc("/menus/accessible/tree", h.accessibleTree).Methods(http.MethodGet)
	router.HandleFunc("/menus/hierarchy", h.hierarchy).Methods(http.MethodGet)
	router.HandleFunc("/menus/root", h.roots).Methods(http.MethodGet)
	router.HandleFunc("/menus/search", h.search).Methods(http.MethodGet)
	router.HandleFunc("/menus/code/{code}", h.byCode).Methods(http.MethodGet)
	router.HandleFunc("/menus/{id:[0-9]+}/children", h.children).Methods(http.MethodGet)

	admin := middleware.RequireRole(security.RoleAdmin)
	router.Handle("/menus/reinitialize", admin(http.HandlerFunc(h.reinitialize))).Methods(http.MethodPost)
	router.Handle("/menus/{id:[0-9]+}/activate", admin(h.transition(h.directory.Activate))).Methods(http.MethodPut)
	router.Handle("/menus/{id:[0-9]+}/deactivate", admin(h.transition(h.directory.Deactivate))).Methods(http.MethodPut)
	router.Handle("/menus/{id:[0-9]+}/show", admin(h.transition(h.directory.Show))).Methods(http.MethodPut)
	router.Handle("/menus/{id:[0-9]+}/hide", admin(h.transition(h.directory.Hide))).Methods(http.MethodPut)
	router.Handle("/menus/{id:[0-9]+}/permissions", admin(http.HandlerFunc(h.grant))).Methods(http.MethodPut)
	router.Handle("/menus/{id:[0-9]+}/permissions/{role}", admin(http.HandlerFunc(h.revoke))).Methods(http.MethodDelete)
}

// requestedRoles returns the role query parameter when given, else every
// authority of the caller
func requestedRoles(r *http.Request) []string {
	if role := httputil.ParseQueryString(r, "role", ""); role != "" {
		return []string{role}
	}
	return security.FromContext(r.Context()).Authorities
}

// accessible handles GET /menus/accessible
func (h *MenuHandlers) accessible(w http.ResponseWriter, r *http.Request) {
	menus, err := h.resolver.AccessibleMenus(r.Context(), requestedRoles(r)...)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, menus)
}

// accessibleTree handles GET /menus/accessible/tree
func (h *MenuHandlers) accessibleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.resolver.AccessibleTree(r.Context(), requestedRoles(r)...)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tree)
}

// hierarchy handles GET /menus/hierarchy
func (h *MenuHandlers) hierarchy(w http.ResponseWriter, r *http.Request) {
	tree, err := h.resolver.Hierarchy(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tree)
}

// roots handles GET /menus/root
func (h *MenuHandlers) roots(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.resolver.Roots(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, nodes)
}

// children handles GET /menus/{id}/children
func (h *MenuHandlers) children(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	nodes, err := h.resolver.Children(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, nodes)
}

// byCode handles GET /menus/code/{code}
func (h *MenuHandlers) byCode(w http.ResponseWriter, r *http.Request) {
	code, err := httputil.ParsePathString(r, "code")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	node, err := h.resolver.ByCode(r.Context(), code)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// search handles GET /menus/search
func (h *MenuHandlers) search(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.resolver.Search(r.Context(), httputil.ParseQueryString(r, "keyword", ""))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, nodes)
}

// reinitialize handles POST /menus/reinitialize
func (h *MenuHandlers) reinitialize(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.Reinitialize(r.Context()); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "menus reinitialized", map[string]uint64{"version": h.directory.Version()})
}

// transition adapts a menu state change to PUT /menus/{id}/<action>
func (h *MenuHandlers) transition(apply func(ctx context.Context, id int64) (menu.Node, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := httputil.ParsePathInt64OrError(w, r, "id")
		if !ok {
			return
		}
		node, err := apply(r.Context(), id)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, node)
	})
}

// grantRequest is the body of PUT /menus/{id}/permissions
type grantRequest struct {
	RoleName  string `json:"roleName"`
	CanRead   bool   `json:"canRead"`
	CanWrite  bool   `json:"canWrite"`
	CanDelete bool   `json:"canDelete"`
}

// grant handles PUT /menus/{id}/permissions
func (h *MenuHandlers) grant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.directory.Grant(r.Context(), menu.Permission{
		MenuID:    id,
		RoleName:  req.RoleName,
		CanRead:   req.CanRead,
		CanWrite:  req.CanWrite,
		CanDelete: req.CanDelete,
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perm)
}

// revoke handles DELETE /menus/{id}/permissions/{role}
func (h *MenuHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := httputil.ParsePathString(r, "role")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := h.directory.Revoke(r.Context(), id, role); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "permission revoked", nil)
}
