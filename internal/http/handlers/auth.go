package handlers

import (
	"errors"
	"net/http"

	"github.com/cabinetmed/cabinet-portal/internal/audit"
	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// AuthHandler owns the session lifecycle endpoints. The browser holds an
// opaque session cookie; the token pair stays server-side.
type AuthHandler struct {
	svc           *auth.Service
	trail         *audit.Store
	logger        *logging.Logger
	secureCookies bool
}

func NewAuthHandler(svc *auth.Service, trail *audit.Store, secureCookies bool, logger *logging.Logger) *AuthHandler {
	return &AuthHandler{
		svc:           svc,
		trail:         trail,
		logger:        logger.Component("auth-handler"),
		secureCookies: secureCookies,
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if !decodeBody(w, r, &creds) {
		return
	}

	sess, user, err := h.svc.Login(r.Context(), creds)
	if err != nil {
		serviceError(w, err)
		return
	}

	h.setSessionCookie(w, sess.ID)
	if err := h.trail.Record(r.Context(), audit.Entry{
		ActorID:   sess.UserID,
		ActorRole: string(sess.Role),
		Action:    audit.ActionLogin,
		Entity:    "session",
		EntityID:  sess.ID,
	}); err != nil {
		h.logger.Warn("audit login failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"redirect": sess.Role.DashboardPath(),
	})
}

// Logout handles POST /auth/logout. Logging out is idempotent: a stale or
// missing session still clears the cookie and answers 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil && cookie.Value != "" {
		sess, _ := h.svc.Session(r.Context(), cookie.Value)
		if err := h.svc.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout cleanup failed", "error", err)
		}
		if sess != nil {
			_ = h.trail.Record(r.Context(), audit.Entry{
				ActorID:   sess.UserID,
				ActorRole: string(sess.Role),
				Action:    audit.ActionLogout,
				Entity:    "session",
				EntityID:  sess.ID,
			})
		}
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Register handles POST /auth/register. Self-registration always creates
// a patient account; the submitted role is ignored.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input auth.RegisterInput
	if !decodeBody(w, r, &input) {
		return
	}
	if err := h.svc.Register(r.Context(), input); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// Session handles GET /auth/session: the page-load probe that restores a
// signed-in state. A dead session answers 401 and clears the cookie; a
// store or backend outage answers 503 and keeps the cookie so the client
// retries instead of logging the user out.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookie)
	if err != nil || cookie.Value == "" {
		jsonError(w, "no session", http.StatusUnauthorized)
		return
	}

	sess, user, err := h.svc.Resume(r.Context(), cookie.Value)
	if err != nil {
		if upstream.IsAuth(err) || errors.Is(err, auth.ErrSessionNotFound) {
			h.clearSessionCookie(w)
			jsonError(w, "session expired", http.StatusUnauthorized)
			return
		}
		if upstream.IsRetryable(err) {
			jsonError(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"role":     sess.Role,
		"redirect": sess.Role.DashboardPath(),
	})
}

// Profile handles GET /profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	user, err := h.svc.Profile(r.Context(), sess.ID)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile handles PUT /profile.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var user auth.User
	if !decodeBody(w, r, &user) {
		return
	}
	updated, err := h.svc.UpdateProfile(r.Context(), sess.ID, user)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ChangePassword handles POST /profile/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var body struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), sess.ID, body.OldPassword, body.NewPassword); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}
