package middleware

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookie describes the cookie carrying the session token
type SessionCookie struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

func (c SessionCookie) withDefaults() SessionCookie {
	if c.Name == "" {
		c.Name = DefaultCookieName
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c
}

// Set writes the session cookie with a lifetime of ttl
func (c SessionCookie) Set(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, c.cookie(token, int(ttl.Seconds())))
}

// Clear expires the session cookie
func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c SessionCookie) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// written reports whether the response already sets this cookie
func (c SessionCookie) written(h http.Header) bool {
	prefix := c.Name + "="
	for _, v := range h.Values("Set-Cookie") {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

// refreshWriter re-issues the session cookie before the response headers go
// out, unless the handler already set or cleared it
type refreshWriter struct {
	http.ResponseWriter
	cookie  SessionCookie
	token   string
	ttl     time.Duration
	applied bool
}

func (w *refreshWriter) apply() {
	if w.applied {
		return
	}
	w.applied = true
	if !w.cookie.written(w.Header()) {
		w.cookie.Set(w.ResponseWriter, w.token, w.ttl)
	}
}

func (w *refreshWriter) WriteHeader(code int) {
	w.apply()
	w.ResponseWriter.WriteHeader(code)
}

func (w *refreshWriter) Write(b []byte) (int, error) {
	w.apply()
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (w *refreshWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
