package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
// Call it in a defer; the panic is not re-raised.
//
//	func (s *Sweeper) run() {
//	    defer observability.RecoverPanic(s.logger, "session sweep")
//	    ...
//	}
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// MustRecover converts a recovered panic value into an error, nil if r is nil.
// Handlers that answer the request themselves use it instead of RecoverPanic.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
