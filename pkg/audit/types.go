package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin          EventType = "auth.login"
	EventTypeAuthLogout         EventType = "auth.logout"
	EventTypeAuthLoginFailed    EventType = "auth.login_failed"
	EventTypeAuthPasswordChange EventType = "auth.password_change"
	EventTypeAuthSignup         EventType = "auth.signup"

	// Authorization events
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"

	// Menu events
	EventTypeMenuActivate     EventType = "menu.activate"
	EventTypeMenuDeactivate   EventType = "menu.deactivate"
	EventTypeMenuShow         EventType = "menu.show"
	EventTypeMenuHide         EventType = "menu.hide"
	EventTypeMenuReinitialize EventType = "menu.reinitialize"

	// HTTP request events written by Middleware
	EventTypeHTTPRequest EventType = "http.request"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeSession    ResourceType = "session"
	ResourceTypeMenu       ResourceType = "menu"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeEndpoint   ResourceType = "endpoint"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Actor    string `json:"actor,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}
