package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/security"
	"github.com/govrec/govrec/pkg/session"
)

// Default session lifetimes
const (
	DefaultSessionTTL    = 8 * time.Hour
	DefaultRememberMeTTL = 30 * 24 * time.Hour
)

// LoginResult is returned by a successful Login
type LoginResult struct {
	Session     *session.Session
	Token       string
	Authorities []string
	ExpiresAt   time.Time
	User        *User
}

// Service implements login, logout, signup and password changes
type Service struct {
	users    UserStore
	registry session.Registry
	hasher   Hasher

	auditLog      audit.Logger
	metrics       *observability.Metrics
	logger        *observability.Logger
	now           func() time.Time
	defaultTTL    time.Duration
	rememberMeTTL time.Duration
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithAuditLogger records authentication events
func WithAuditLogger(l audit.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.auditLog = l
		}
	}
}

// WithMetrics records login and logout counters
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l *observability.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceClock overrides the time source
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionTTL sets the inactivity windows for normal and remember-me sessions
func WithSessionTTL(defaultTTL, rememberMeTTL time.Duration) ServiceOption {
	return func(s *Service) {
		if defaultTTL > 0 {
			s.defaultTTL = defaultTTL
		}
		if rememberMeTTL > 0 {
			s.rememberMeTTL = rememberMeTTL
		}
	}
}

// NewService creates an authentication service
func NewService(users UserStore, registry session.Registry, hasher Hasher, opts ...ServiceOption) *Service {
	s := &Service{
		users:         users,
		registry:      registry,
		hasher:        hasher,
		auditLog:      audit.NoOpLogger{},
		logger:        observability.NewNopLogger(),
		now:           time.Now,
		defaultTTL:    DefaultSessionTTL,
		rememberMeTTL: DefaultRememberMeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies credentials and opens a session, evicting any earlier
// session of the same user. Every credential failure is the same
// INVALID_CREDENTIALS error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (result *LoginResult, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.Login", attribute.Bool("remember_me", req.RememberMe))
	defer func() { observability.EndSpan(span, err) }()

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || !validPasswordLength(req.Password) {
		return nil, s.loginFailed(ctx, nil, identifier, "malformed credentials")
	}

	user, lookupErr := s.users.FindByIdentifier(ctx, identifier)
	exists := lookupErr == nil
	if lookupErr != nil && !errors.Is(lookupErr, ErrUserNotFound) {
		return nil, oops.With("operation", "find user").Wrap(lookupErr)
	}

	// verify even for unknown identifiers so both paths cost one bcrypt compare
	targetHash := s.hasher.DummyHash()
	if exists {
		targetHash = user.PasswordHash
	}
	valid, verifyErr := s.hasher.Verify(req.Password, targetHash)
	if verifyErr != nil && exists {
		s.logger.WithError(verifyErr).WithField("user_id", user.ID).Error("stored password hash is unreadable")
	}

	if !exists {
		return nil, s.loginFailed(ctx, nil, identifier, "unknown identifier")
	}
	if !valid {
		return nil, s.loginFailed(ctx, &user.ID, identifier, "wrong password")
	}
	if !user.Status.CanLogin() {
		return nil, s.loginFailed(ctx, &user.ID, identifier, "account "+string(user.Status))
	}

	authorities := security.NormalizeAuthorities(append(append([]string(nil), user.Roles...), security.RoleUser))
	ttl := s.defaultTTL
	if req.RememberMe {
		ttl = s.rememberMeTTL
	}

	sess, err := s.registry.Create(ctx, session.NewSession{
		UserID:              user.ID,
		Username:            user.Username,
		Authorities:         authorities,
		MaxInactiveInterval: ttl,
		RememberMe:          req.RememberMe,
	})
	if err != nil {
		return nil, err
	}
	if err := s.confirmPasswordUnchanged(ctx, user, sess.Token); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.TouchLastActivity(ctx, user.ID, now); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to record last activity")
	} else {
		user.LastActivityAt = &now
	}

	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(observability.LoginResultSuccess).Inc()
	}
	s.audit(ctx, audit.EventTypeAuthLogin, &user.ID, user.Username, audit.EventStatusSuccess, "login succeeded")
	s.logger.WithFields(map[string]interface{}{
		"user_id":     user.ID,
		"remember_me": req.RememberMe,
	}).Info("user logged in")

	return &LoginResult{
		Session:     sess,
		Token:       sess.Token,
		Authorities: authorities,
		ExpiresAt:   sess.ExpiresAt,
		User:        user,
	}, nil
}

// confirmPasswordUnchanged revokes a fresh session when the password changed
// between verification and session creation. ChangePassword stores the new
// hash before revoking, so either its revocation or this check catches the
// session.
func (s *Service) confirmPasswordUnchanged(ctx context.Context, user *User, token string) error {
	current, err := s.users.FindByID(ctx, user.ID)
	if err == nil && current.PasswordHash == user.PasswordHash {
		return nil
	}
	if invErr := s.registry.Invalidate(ctx, token); invErr != nil {
		s.logger.WithError(invErr).WithField("user_id", user.ID).Error("failed to revoke stale session")
	}
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return oops.With("operation", "recheck user").Wrap(err)
	}
	return s.loginFailed(ctx, &user.ID, user.Username, "password changed during login")
}

func (s *Service) loginFailed(ctx context.Context, userID *int64, identifier, reason string) error {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(observability.LoginResultFailure).Inc()
	}
	s.audit(ctx, audit.EventTypeAuthLoginFailed, userID, identifier, audit.EventStatusFailure, reason)
	return errutil.InvalidCredentials(reason)
}

// Logout invalidates the session behind token. Unknown, empty and expired
// tokens succeed with HadSession false.
func (s *Service) Logout(ctx context.Context, token string) (*LogoutResult, error) {
	result := &LogoutResult{LoggedOutAt: s.now().UTC()}
	if token == "" {
		return result, nil
	}

	sess, err := s.registry.Get(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.registry.Invalidate(ctx, token); err != nil {
		return nil, err
	}

	result.UserID = sess.UserID
	result.HadSession = true
	if s.metrics != nil {
		s.metrics.LogoutsTotal.Inc()
	}
	s.audit(ctx, audit.EventTypeAuthLogout, &sess.UserID, sess.Username, audit.EventStatusSuccess, "logout")
	return result, nil
}

// ChangePassword replaces the user's password after verifying the current one,
// then revokes every session of the user so all clients must log in again
func (s *Service) ChangePassword(ctx context.Context, userID int64, req ChangePasswordRequest) (err error) {
	ctx, span := observability.StartSpan(ctx, "auth.ChangePassword", attribute.Int64("user_id", userID))
	defer func() { observability.EndSpan(span, err) }()

	if err := validatePasswordChange(req); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return errutil.Unauthenticated()
	}
	if err != nil {
		return oops.With("operation", "find user").Wrap(err)
	}

	valid, err := s.hasher.Verify(req.CurrentPassword, user.PasswordHash)
	if err != nil || !valid {
		s.audit(ctx, audit.EventTypeAuthPasswordChange, &user.ID, user.Username, audit.EventStatusFailure, "current password mismatch")
		return errutil.InvalidCredentials("current password mismatch")
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}

	revoked, err := s.registry.InvalidateUser(ctx, user.ID)
	if err != nil {
		return err
	}

	s.audit(ctx, audit.EventTypeAuthPasswordChange, &user.ID, user.Username, audit.EventStatusSuccess,
		fmt.Sprintf("password changed, %d session(s) revoked", revoked))
	return nil
}

// Signup registers a new active user with ROLE_USER
func (s *Service) Signup(ctx context.Context, req SignupRequest) (id int64, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.Signup")
	defer func() { observability.EndSpan(span, err) }()

	return s.register(ctx, req, []string{security.RoleUser})
}

// BootstrapAdmin creates an administrator account unless the username is
// already taken. created is false when the account existed.
func (s *Service) BootstrapAdmin(ctx context.Context, req SignupRequest) (id int64, created bool, err error) {
	exists, err := s.users.Exists(ctx, FieldUsername, strings.TrimSpace(req.Username))
	if err != nil {
		return 0, false, err
	}
	if exists {
		return 0, false, nil
	}
	req.ConfirmPassword = req.Password
	id, err = s.register(ctx, req, []string{security.RoleUser, security.RoleAdmin})
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Service) register(ctx context.Context, req SignupRequest, roles []string) (int64, error) {
	if err := validateSignup(&req); err != nil {
		return 0, err
	}

	candidate := &User{
		LoginID:    req.LoginID,
		Username:   req.Username,
		Email:      req.Email,
		Mobile:     req.Mobile,
		FullName:   req.FullName,
		Department: req.Department,
		Position:   req.Position,
		Roles:      roles,
		Status:     UserStatusActive,
	}

	for _, field := range UniqueFields {
		value := field.value(candidate)
		if value == "" {
			continue
		}
		taken, err := s.users.Exists(ctx, field, value)
		if err != nil {
			return 0, err
		}
		if taken {
			return 0, errutil.Duplicate(field.DuplicateCode(), string(field), value)
		}
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return 0, err
	}
	candidate.PasswordHash = hash
	candidate.CreatedAt = s.now().UTC()

	id, err := s.users.Create(ctx, candidate)
	if err != nil {
		return 0, err
	}

	s.audit(ctx, audit.EventTypeAuthSignup, &id, candidate.Username, audit.EventStatusSuccess, "user registered")
	s.logger.WithField("user_id", id).Info("user registered")
	return id, nil
}

// Me returns the profile of the authenticated caller
func (s *Service) Me(ctx context.Context, identity *security.Identity) (*Profile, error) {
	if identity == nil || !identity.Authenticated {
		return nil, errutil.Unauthenticated()
	}

	user, err := s.users.FindByID(ctx, identity.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, errutil.Unauthenticated()
	}
	if err != nil {
		return nil, oops.With("operation", "find user").Wrap(err)
	}

	profile := &Profile{
		UserID:         user.ID,
		LoginID:        user.LoginID,
		Username:       user.Username,
		Email:          user.Email,
		Mobile:         user.Mobile,
		FullName:       user.FullName,
		Department:     user.Department,
		Position:       user.Position,
		Authorities:    append([]string(nil), identity.Authorities...),
		LastActivityAt: user.LastActivityAt,
	}

	if identity.SessionToken != "" {
		if sess, err := s.registry.Get(ctx, identity.SessionToken); err == nil {
			expires := sess.ExpiresAt
			profile.SessionExpiresAt = &expires
		}
	}
	return profile, nil
}

// Status reports whether token names a live session
func (s *Service) Status(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	_, err := s.registry.Get(ctx, token)
	return err == nil
}

// ActiveSessionCount returns the number of live sessions
func (s *Service) ActiveSessionCount(ctx context.Context) (int, error) {
	return s.registry.CountActive(ctx)
}

func (s *Service) audit(ctx context.Context, eventType audit.EventType, userID *int64, username string, status audit.EventStatus, message string) {
	if err := s.auditLog.LogAuthentication(ctx, eventType, userID, username, status, message); err != nil {
		s.logger.WithError(err).Warn("failed to write audit event")
	}
}
