// Package api provides the HTTP REST API of govrec.
//
// # Overview
//
// The API is built on gorilla/mux and organized into two handler groups:
//
//   - Authentication (/auth/*): login, logout, signup, profile, password
//     change, session status and the active session count
//   - Menus (/menus/*): accessible menus per role, the menu hierarchy,
//     lookups and search, plus administrator operations that change menu
//     state and role grants
//
// Health probes live under /health and Prometheus metrics under /metrics.
//
// # Key Types
//
// Server owns the router and the middleware chain:
//
//	server := api.NewServer(api.Dependencies{
//		Auth:      authService,
//		Directory: directory,
//		Resolver:  resolver,
//		Sessions:  sessions,
//	})
//	http.ListenAndServe(":8080", server.Handler())
//
// Every JSON response uses the httputil envelope
// {success, message, data, error{code, message, details}, timestamp}.
//
// # Sessions
//
// Login sets an HttpOnly, SameSite=Lax session cookie whose Max-Age matches
// the session's inactivity window. The session middleware re-issues it on
// every authenticated request so the browser expiry slides with the server
// one. Logout and password changes clear it.
// Clients that cannot hold cookies may send "Authorization: Session <token>".
package api
