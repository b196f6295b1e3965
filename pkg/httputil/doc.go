// Package httputil provides the JSON envelope, request parsing helpers and
// the HTTP middleware shared by every handler.
//
// Every response uses the same envelope:
//
//	{"success": false, "message": "...", "error": {"code": "UNAUTHENTICATED", ...}, "timestamp": "..."}
//
// Handlers return coded errors (pkg/errutil) and let WriteAppError pick the
// status:
//
//	if err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, data)
//
// Middleware is composed with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
