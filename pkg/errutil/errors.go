package errutil

import (
	"fmt"

	"github.com/samber/oops"
)

// InvalidCredentials returns the single error used for every login failure.
// The reason is kept in the error context for logs and never shown to clients.
func InvalidCredentials(reason string) error {
	return oops.Code(CodeInvalidCredentials).
		With(keyPublic, InvalidCredentialsMessage).
		With("reason", reason).
		Errorf("%s", InvalidCredentialsMessage)
}

// Validation returns a validation error for a single field
func Validation(field, message string) error {
	return oops.Code(CodeValidation).
		With(keyPublic, message).
		With(keyField, field).
		With(keyFields, map[string]string{field: message}).
		Errorf("%s: %s", field, message)
}

// ValidationFields returns a validation error carrying several field messages
func ValidationFields(fields map[string]string) error {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return oops.Code(CodeValidation).
		With(keyPublic, "validation failed").
		With(keyFields, copied).
		Errorf("validation failed: %v", copied)
}

// Duplicate returns a uniqueness violation for a signup field. code must be one
// of the CodeDuplicate* constants.
func Duplicate(code, field, value string) error {
	return oops.Code(code).
		With(keyPublic, fmt.Sprintf("%s is already in use", field)).
		With(keyField, field).
		With(keyFields, map[string]string{field: "already in use"}).
		Errorf("duplicate %s %q", field, value)
}

// Unauthenticated returns the error for a missing or invalid session
func Unauthenticated() error {
	return oops.Code(CodeUnauthenticated).
		With(keyPublic, "authentication required").
		Errorf("authentication required")
}

// Forbidden returns the error for an authenticated caller lacking a role
func Forbidden(required string) error {
	return oops.Code(CodeForbidden).
		With(keyPublic, "insufficient permissions").
		With("required_role", required).
		Errorf("role %s required", required)
}

// NotFound returns the error for an unknown resource
func NotFound(resource, key string) error {
	return oops.Code(CodeNotFound).
		With(keyPublic, fmt.Sprintf("%s not found", resource)).
		With("resource", resource).
		With("key", key).
		Errorf("%s %q not found", resource, key)
}

// RateLimited returns the error for a throttled caller
func RateLimited() error {
	return oops.Code(CodeRateLimited).
		With(keyPublic, "too many requests").
		Errorf("rate limit exceeded")
}

// SessionStoreUnavailable wraps a session registry failure that survived retries
func SessionStoreUnavailable(err error) error {
	return oops.Code(CodeSessionStoreUnavailable).
		With(keyPublic, "session store unavailable, try again").
		Wrapf(err, "session store")
}

// Code returns the error code carried by err, or "" for uncoded errors
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code, ok := oopsErr.Code().(string); ok {
		return code
	}
	return ""
}

// PublicMessage returns the client-safe message carried by err.
// Uncoded errors never leak their text.
func PublicMessage(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "internal server error"
	}
	if msg, ok := oopsErr.Context()[keyPublic].(string); ok && msg != "" {
		return msg
	}
	return "internal server error"
}

// Fields returns the per-field details carried by err, if any
func Fields(err error) map[string]string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	if fields, ok := oopsErr.Context()[keyFields].(map[string]string); ok {
		return fields
	}
	return nil
}

// Is reports whether err carries the given code
func Is(err error, code string) bool {
	return Code(err) == code
}
