// Package audit records who did what: logins, logouts, password changes,
// access denials and menu administration.
//
// # Actors
//
// ActorResolver names the principal responsible for an operation. The default
// ContextActorResolver reads the identity bound to the request context and
// falls back to SystemActor for work done outside a request (startup seeding,
// scheduled jobs). The menu store uses it to stamp created_by/updated_by.
//
// # Loggers
//
// LogrusLogger writes each event as a JSON line through its own logrus logger.
// RecordingLogger keeps events in memory. NoOpLogger discards them and is what
// FromContext returns when nothing was installed.
//
//	auditLog := audit.NewLogrusLogger(os.Stdout)
//	auditLog.LogAuthentication(ctx, audit.EventTypeAuthLogin, &user.ID, user.Username,
//		audit.EventStatusSuccess, "login succeeded")
//
// Middleware installs the logger and the client address in the request
// context and writes one http.request event for every mutation, every 4xx/5xx
// and every /auth request.
package audit
