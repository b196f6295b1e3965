package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/govrec/govrec/pkg/contextkeys"
	"github.com/govrec/govrec/pkg/security"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogAuthentication logs an authentication event
	LogAuthentication(ctx context.Context, eventType EventType, userID *int64, username string, status EventStatus, message string) error

	// LogAuthorization logs an authorization decision
	LogAuthorization(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error

	// LogDataMutation logs a change to menu state or grants
	LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error

	// LogHTTPRequest logs an HTTP request (for middleware)
	LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error

	// Close flushes any buffered events
	Close() error
}

// contextKey is the type for audit-local context keys
type contextKey string

const (
	// loggerKey is the context key for the audit logger
	loggerKey contextKey = "audit_logger"

	// requestInfoKey holds the client address of the request being served
	requestInfoKey contextKey = "audit_request_info"
)

// requestInfo is what Middleware remembers about the request for events
// logged deeper in the stack
type requestInfo struct {
	ipAddress string
	userAgent string
}

func withRequestInfo(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestInfoKey, requestInfo{ipAddress: clientIP(r), userAgent: r.UserAgent()})
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NoOpLogger{}
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (NoOpLogger) LogAuthentication(ctx context.Context, eventType EventType, userID *int64, username string, status EventStatus, message string) error {
	return nil
}

func (NoOpLogger) LogAuthorization(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return nil
}

func (NoOpLogger) LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return nil
}

func (NoOpLogger) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	return nil
}

func (NoOpLogger) Close() error { return nil }

// eventBuilder fills the typed helpers of Logger on top of a single Log method.
// Implementations embed it and set log.
type eventBuilder struct {
	log   func(ctx context.Context, event *AuditEvent) error
	actor ActorResolver
	now   func() time.Time
}

// Option configures a Logger implementation
type Option func(*eventBuilder)

// WithActorResolver overrides how the acting principal is named
func WithActorResolver(resolver ActorResolver) Option {
	return func(b *eventBuilder) {
		if resolver != nil {
			b.actor = resolver
		}
	}
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) Option {
	return func(b *eventBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

func newEventBuilder(log func(ctx context.Context, event *AuditEvent) error, opts ...Option) eventBuilder {
	b := eventBuilder{log: log, actor: NewContextActorResolver(), now: time.Now}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b eventBuilder) LogAuthentication(ctx context.Context, eventType EventType, userID *int64, username string, status EventStatus, message string) error {
	event := b.base(ctx, nil, eventType, status)
	if userID != nil {
		event.UserID = userID
	}
	if username != "" {
		event.Username = username
	}
	event.ResourceType = ResourceTypeSession
	event.Message = message
	return b.log(ctx, event)
}

func (b eventBuilder) LogAuthorization(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	event := b.base(ctx, nil, eventType, status)
	if userID != nil {
		event.UserID = userID
	}
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return b.log(ctx, event)
}

func (b eventBuilder) LogDataMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	event := b.base(ctx, nil, eventType, EventStatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message
	return b.log(ctx, event)
}

func (b eventBuilder) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	status := EventStatusSuccess
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		status = EventStatusDenied
	case statusCode >= 400 || err != nil:
		status = EventStatusFailure
	}

	event := b.base(ctx, r, EventTypeHTTPRequest, status)
	event.StatusCode = statusCode
	event.Metadata = map[string]interface{}{"duration_ms": duration.Milliseconds()}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return b.log(ctx, event)
}

// base creates an event with the request and actor fields populated
func (b eventBuilder) base(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: b.now().UTC(),
		EventType: eventType,
		Status:    status,
		Actor:     b.actor.CurrentActor(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}

	if identity := security.FromContext(ctx); identity.Authenticated {
		userID := identity.UserID
		event.UserID = &userID
		event.Username = identity.Principal
	}

	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.IPAddress = clientIP(r)
		event.UserAgent = r.UserAgent()
	} else if info, ok := ctx.Value(requestInfoKey).(requestInfo); ok {
		event.IPAddress = info.ipAddress
		event.UserAgent = info.userAgent
	}

	return event
}

// clientIP extracts the originating client address from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// LogDenied logs an access denied event through the context logger
func LogDenied(ctx context.Context, resourceType ResourceType, resourceID string, reason string) error {
	return FromContext(ctx).LogAuthorization(ctx, EventTypeAuthzAccessDenied, nil, resourceType, resourceID,
		EventStatusDenied, fmt.Sprintf("Access denied: %s", reason))
}
