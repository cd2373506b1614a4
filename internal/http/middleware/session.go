package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
)

// SessionCookie names the cookie carrying the portal session ID. Tokens
// never leave the server; the browser only ever sees this opaque ID.
const SessionCookie = "cabinet_session"

const loginPath = "/login"

type contextKey string

const sessionContextKey contextKey = "portal.session"

// SessionLoader resolves a session ID to its stored session.
type SessionLoader interface {
	Session(ctx context.Context, sessionID string) (*auth.Session, error)
}

// SessionFromContext returns the session attached by RequireSession, or
// nil outside a guarded route.
func SessionFromContext(ctx context.Context) *auth.Session {
	sess, _ := ctx.Value(sessionContextKey).(*auth.Session)
	return sess
}

// WithSession attaches a session to the context the way RequireSession
// does for guarded routes.
func WithSession(ctx context.Context, sess *auth.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// RequireSession loads the session named by the cookie and attaches it to
// the request context. No cookie or an unknown session redirects to the
// login page. A session store outage answers 503: a reachable backend
// with an unreachable store must not look like an expired login.
func RequireSession(loader SessionLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}

			sess, err := loader.Session(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, auth.ErrSessionNotFound) {
					http.Redirect(w, r, loginPath, http.StatusSeeOther)
					return
				}
				if upstream.IsRetryable(err) {
					w.Header().Set("Retry-After", "5")
					http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "session lookup failed", http.StatusBadGateway)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RequireRoles allows only the listed roles through. Anyone else who is
// signed in is sent to their own dashboard rather than shown an error
// page.
func RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	allowed := make(map[auth.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if sess == nil {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			if _, ok := allowed[sess.Role]; !ok {
				http.Redirect(w, r, sess.Role.DashboardPath(), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GuestOnly keeps signed-in users off the login and register pages by
// bouncing them to their dashboard. A store outage lets the request
// through: showing a guest page to a maybe-signed-in user is harmless,
// blocking login during an outage is not.
func GuestOnly(loader SessionLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err == nil && cookie.Value != "" {
				if sess, err := loader.Session(r.Context(), cookie.Value); err == nil {
					http.Redirect(w, r, sess.Role.DashboardPath(), http.StatusSeeOther)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
