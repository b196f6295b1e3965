package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/observability"
)

// Envelope is the body of every API response
type Envelope struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorBody carries a stable machine-readable code. Clients branch on Code,
// never on Message.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful envelope
func WriteData(w http.ResponseWriter, status int, message string, data interface{}) error {
	return WriteJSON(w, status, Envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteSuccess writes a 200 envelope with data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteData(w, http.StatusOK, "", data)
}

// WriteCreated writes a 201 envelope with data
func WriteCreated(w http.ResponseWriter, message string, data interface{}) error {
	return WriteData(w, http.StatusCreated, message, data)
}

// WriteErrorCode writes a failed envelope
func WriteErrorCode(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	WriteJSON(w, status, Envelope{
		Success:   false,
		Message:   message,
		Error:     &ErrorBody{Code: code, Message: message, Details: details},
		Timestamp: time.Now().UTC(),
	})
}

// WriteAppError writes err as a failed envelope. Coded errors keep their code
// and public message; anything else becomes INTERNAL_ERROR with a generic
// message and is logged with the request logger.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	status := errutil.HTTPStatus(code)

	if code == "" {
		code = errutil.CodeInternal
	}
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithFields(map[string]interface{}{
				"code":   code,
				"method": r.Method,
				"path":   r.URL.Path,
			}).
			Error("request failed")
	}

	WriteErrorCode(w, status, code, errutil.PublicMessage(err), errutil.Fields(err))
}

// WriteBadRequest writes a 400 VALIDATION_ERROR envelope
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusBadRequest, errutil.CodeValidation, message, nil)
}

// WriteNotFound writes a 404 NOT_FOUND envelope
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusNotFound, errutil.CodeNotFound, message, nil)
}
