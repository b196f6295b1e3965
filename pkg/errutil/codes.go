// Package errutil defines the stable error codes returned to API clients and
// helpers to build and inspect coded errors.
//
// Errors are built with github.com/samber/oops so the code, public message and
// field details travel with the error through wrapping:
//
//	return errutil.Validation("newPassword", "must be 8-255 characters")
//
//	if errutil.Code(err) == errutil.CodeInvalidCredentials { ... }
package errutil

// Error codes. Clients branch on these; never change an existing value.
const (
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeValidation              = "VALIDATION_ERROR"
	CodeDuplicateLoginID        = "DUPLICATE_LOGIN_ID"
	CodeDuplicateUsername       = "DUPLICATE_USERNAME"
	CodeDuplicateEmail          = "DUPLICATE_EMAIL"
	CodeDuplicateMobile         = "DUPLICATE_MOBILE"
	CodeUnauthenticated         = "UNAUTHENTICATED"
	CodeForbidden               = "FORBIDDEN"
	CodeNotFound                = "NOT_FOUND"
	CodeRateLimited             = "RATE_LIMITED"
	CodeSessionStoreUnavailable = "SESSION_STORE_UNAVAILABLE"
	CodeInternal                = "INTERNAL_ERROR"
)

// InvalidCredentialsMessage is the only message ever shown for a failed login.
const InvalidCredentialsMessage = "id or password incorrect"

// Context keys carried on coded errors
const (
	keyPublic = "public_message"
	keyField  = "field"
	keyFields = "fields"
)
