package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/govrec/govrec/pkg/errutil"
)

// ParseJSON decodes the request body into dest. Malformed bodies are
// VALIDATION_ERROR.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errutil.Validation("body", "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errutil.Validation("body", "request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errutil.Validation("body", "request body too large")
		}
		return errutil.Validation("body", "invalid JSON")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an error envelope on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteAppError(w, r, err)
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, errutil.Validation(key, "is required")
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, errutil.Validation(key, "must be an integer")
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes an error
// envelope on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteAppError(w, r, err)
		return 0, false
	}
	return val, true
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", errutil.Validation(key, "is required")
	}
	return str, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// ClientIP returns the originating client address: the first
// X-Forwarded-For entry, then X-Real-IP, then the connection address
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
