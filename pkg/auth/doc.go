// Package auth authenticates users and manages their accounts.
//
// # Overview
//
// Service is the entry point used by the HTTP layer. It verifies credentials
// against a UserStore, asks the session.Registry for a session (which evicts any
// earlier session of the same user), and records audit events and metrics.
//
//	svc := auth.NewService(users, registry, auth.NewBcryptHasher(0),
//		auth.WithAuditLogger(auditLog),
//		auth.WithMetrics(metrics),
//	)
//	result, err := svc.Login(ctx, auth.LoginRequest{Identifier: "alice", Password: "s3cretpass"})
//
// # Credential Opacity
//
// Every failed login returns the same INVALID_CREDENTIALS error with the same
// message, whether the identifier was unknown, the password was wrong or the
// account is locked. Unknown identifiers are still verified against a dummy
// bcrypt hash of the same cost so response timing does not tell them apart.
//
// # User Stores
//
// MemoryUserStore keeps users in process and is used by tests and DB-less runs.
// SQLUserStore reads and writes the users and user_roles tables on postgres or
// sqlite, mapping unique-key violations raced at insert time onto the
// DUPLICATE_* error codes.
//
// # Related Packages
//
//   - pkg/session: session registry
//   - pkg/errutil: error codes
//   - pkg/audit: authentication audit trail
package auth
