package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/govrec/govrec/pkg/auth"
	"github.com/govrec/govrec/pkg/httputil"
	"github.com/govrec/govrec/pkg/menu"
	"github.com/govrec/govrec/pkg/middleware"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/security"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	service  *auth.Service
	resolver *menu.Resolver
	cookie   middleware.SessionCookie
	limiter  middleware.Limiter
	logger   *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(service *auth.Service, resolver *menu.Resolver, cookie middleware.SessionCookie, limiter middleware.Limiter, logger *observability.Logger) *AuthHandlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuthHandlers{
		service:  service,
		resolver: resolver,
		cookie:   cookie,
		limiter:  limiter,
		logger:   logger,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	var login http.Handler = http.HandlerFunc(h.login)
	if h.limiter != nil {
		login = middleware.RateLimit(h.limiter, middleware.ClientIPKey("login"), h.logger)(login)
	}
	router.Handle("/auth/login", login).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	router.HandleFunc("/auth/signup", h.signup).Methods(http.MethodPost)
	router.HandleFunc("/auth/status", h.status).Methods(http.MethodGet)

	router.Handle("/auth/me", middleware.RequireAuthenticated(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	router.Handle("/auth/password", middleware.RequireAuthenticated(http.HandlerFunc(h.changePassword))).Methods(http.MethodPut)
	router.Handle("/auth/sessions/count", middleware.RequireRole(security.RoleAdmin)(http.HandlerFunc(h.sessionCount))).Methods(http.MethodGet)
}

// loginResponse is the data of a successful login
type loginResponse struct {
	Token           string                `json:"token"`
	UserID          int64                 `json:"userId"`
	Username        string                `json:"username"`
	Authorities     []string              `json:"authorities"`
	ExpiresAt       time.Time             `json:"expiresAt"`
	RememberMe      bool                  `json:"rememberMe"`
	AccessibleMenus []menu.AccessibleMenu `json:"accessibleMenus"`
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	menus, err := h.resolver.AccessibleMenus(r.Context(), result.Authorities...)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("user_id", result.User.ID).
			Warn("failed to resolve accessible menus at login")
		menus = []menu.AccessibleMenu{}
	}

	h.cookie.Set(w, result.Token, result.Session.MaxInactiveInterval)
	httputil.WriteData(w, http.StatusOK, "login succeeded", loginResponse{
		Token:           result.Token,
		UserID:          result.User.ID,
		Username:        result.User.Username,
		Authorities:     result.Authorities,
		ExpiresAt:       result.ExpiresAt,
		RememberMe:      req.RememberMe,
		AccessibleMenus: menus,
	})
}

// logout handles POST /auth/logout. Unknown and expired sessions still
// succeed.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	token := security.FromContext(r.Context()).SessionToken
	if token == "" {
		token = middleware.SessionToken(r, h.cookie.Name)
	}

	result, err := h.service.Logout(r.Context(), token)
	h.cookie.Clear(w)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "logged out", result)
}

// signup handles POST /auth/signup
func (h *AuthHandlers) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	id, err := h.service.Signup(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "user registered", map[string]int64{"userId": id})
}

// me handles GET /auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Me(r.Context(), security.FromContext(r.Context()))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// changePassword handles PUT /auth/password. Every session of the user is
// revoked, so the caller's cookie is cleared too.
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ChangePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	identity := security.FromContext(r.Context())
	if err := h.service.ChangePassword(r.Context(), identity.UserID, req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.cookie.Clear(w)
	httputil.WriteData(w, http.StatusOK, "password changed, please log in again", nil)
}

// status handles GET /auth/status
func (h *AuthHandlers) status(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionToken(r, h.cookie.Name)
	httputil.WriteSuccess(w, map[string]bool{
		"authenticated": h.service.Status(r.Context(), token),
	})
}

// sessionCount handles GET /auth/sessions/count
func (h *AuthHandlers) sessionCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ActiveSessionCount(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int{"count": count})
}
