package errutil

import "net/http"

// HTTPStatus maps an error code to its response status. Unknown and empty
// codes are internal errors.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidCredentials, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeValidation:
		return http.StatusBadRequest
	case CodeDuplicateLoginID, CodeDuplicateUsername, CodeDuplicateEmail, CodeDuplicateMobile:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeSessionStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
