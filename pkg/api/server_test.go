package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/auth"
	"github.com/govrec/govrec/pkg/httputil"
	"github.com/govrec/govrec/pkg/menu"
	"github.com/govrec/govrec/pkg/middleware"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/session"
)

const (
	alicePassword = "wonderland"
	adminPassword = "change-me-now"
)

type testEnv struct {
	server    *Server
	service   *auth.Service
	users     *auth.MemoryUserStore
	registry  *session.MemoryRegistry
	directory *menu.Directory
	resolver  *menu.Resolver
	audit     *audit.RecordingLogger
}

type envOption func(*Dependencies)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	recorder := audit.NewRecordingLogger(0)
	registry := session.NewMemoryRegistry()
	users := auth.NewMemoryUserStore()
	service := auth.NewService(users, registry, auth.NewBcryptHasher(4),
		auth.WithAuditLogger(recorder))

	directory := menu.NewDirectory(menu.NewMemoryStore(nil), menu.WithDirectoryAudit(recorder))
	require.NoError(t, directory.Reinitialize(ctx))
	resolver := menu.NewResolver(directory)

	_, err := service.Signup(ctx, auth.SignupRequest{
		LoginID: "alice01", Username: "alice", Email: "alice@example.com",
		Password: alicePassword, ConfirmPassword: alicePassword,
	})
	require.NoError(t, err)
	_, created, err := service.BootstrapAdmin(ctx, auth.SignupRequest{
		LoginID: "root", Username: "root", Email: "root@example.com", Password: adminPassword,
	})
	require.NoError(t, err)
	require.True(t, created)

	registryMetrics := prometheus.NewRegistry()
	deps := Dependencies{
		Auth:      service,
		Directory: directory,
		Resolver:  resolver,
		Sessions:  middleware.NewSessionMiddleware(registry, middleware.SessionConfig{}, nil),
		Metrics:   observability.NewMetrics(registryMetrics),
		Gatherer:  registryMetrics,
		AuditLog:  recorder,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &testEnv{
		server:    NewServer(deps),
		service:   service,
		users:     users,
		registry:  registry,
		directory: directory,
		resolver:  resolver,
		audit:     recorder,
	}
}

// addUser stores an active account holding the given roles
func (e *testEnv) addUser(t *testing.T, username, password string, roles ...string) {
	t.Helper()
	hash, err := auth.NewBcryptHasher(4).Hash(password)
	require.NoError(t, err)
	_, err = e.users.Create(context.Background(), &auth.User{
		LoginID:      username + "01",
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Roles:        roles,
		Status:       auth.UserStatusActive,
	})
	require.NoError(t, err)
}

// do sends a request through the full handler chain
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, r)
	return w
}

// login logs in and returns the session cookie
func (e *testEnv) login(t *testing.T, identifier, password string, rememberMe bool) *http.Cookie {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/login", map[string]interface{}{
		"identifier": identifier, "password": password, "rememberMe": rememberMe,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	c := sessionCookie(w)
	require.NotNil(t, c)
	return c
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.DefaultCookieName {
			return c
		}
	}
	return nil
}

type envelope struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Data    json.RawMessage    `json:"data"`
	Error   *httputil.ErrorBody `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, w, nil)
	require.NotNil(t, env.Error, w.Body.String())
	return env.Error.Code
}

func TestServer_UnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/auth/login", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/menus/root", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/menus/root"`)
}

func TestServer_AuditsSensitiveRequests(t *testing.T) {
	env := newTestEnv(t)
	env.audit.Reset()

	env.do(t, http.MethodGet, "/auth/status", nil)
	env.do(t, http.MethodGet, "/menus/root", nil)

	requests := env.audit.EventsOfType(audit.EventTypeHTTPRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, "/auth/status", requests[0].Path)
}
