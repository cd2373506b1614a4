// Package auth owns the portal session and the access/refresh token
// lifecycle against the accounts service.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// User is the backend account profile.
type User struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Role        Role   `json:"role"`
}

// Credentials are what the login form submits.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterInput is the self-registration form. Any role the caller supplies
// is discarded; self-registration can never grant an elevated role.
type RegisterInput struct {
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	PhoneNumber     string `json:"phone_number"`
	Role            string `json:"role,omitempty"`
}

// Service implements login, resume, refresh, logout and registration.
type Service struct {
	api      *upstream.Client
	sessions *SessionStore
	logger   *logging.Logger
	inflight singleflight.Group
}

// NewService wires the auth service.
func NewService(api *upstream.Client, sessions *SessionStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		api:      api,
		sessions: sessions,
		logger:   logger.Component("auth"),
	}
}

type loginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    User   `json:"user"`
}

// Login exchanges credentials for a token pair and opens a portal session.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Session, *User, error) {
	if strings.TrimSpace(creds.Email) == "" {
		return nil, nil, upstream.NewValidation("email", "email is required")
	}
	if creds.Password == "" {
		return nil, nil, upstream.NewValidation("password", "password is required")
	}

	var resp loginResponse
	if err := s.api.Post(ctx, nil, "/accounts/login/", creds, &resp); err != nil {
		return nil, nil, err
	}

	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       resp.User.ID,
		Email:        resp.User.Email,
		Role:         resp.User.Role,
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, nil, err
	}

	s.logger.Info("login", "user_id", resp.User.ID, "role", resp.User.Role)
	return sess, &resp.User, nil
}

// Resume restores a session on app load. An expired access token gets exactly
// one refresh; a failed refresh (or a missing refresh token) clears the
// session. A live session yields the current profile.
func (s *Service) Resume(ctx context.Context, sessionID string) (*Session, *User, error) {
	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	if tokenExpired(sess.AccessToken) {
		if sess.RefreshToken == "" {
			_ = s.sessions.Delete(ctx, sessionID)
			return nil, nil, &upstream.AuthError{Message: "session expired"}
		}
		if _, err := s.Refresh(ctx, sessionID); err != nil {
			return nil, nil, err
		}
		if sess, err = s.sessions.Load(ctx, sessionID); err != nil {
			return nil, nil, err
		}
	}

	user, err := s.Profile(ctx, sessionID)
	if err != nil {
		if upstream.IsAuth(err) {
			_ = s.sessions.Delete(ctx, sessionID)
		}
		return nil, nil, err
	}
	return sess, user, nil
}

// Refresh rotates the access token. Concurrent refreshes for the same session
// collapse into one backend call so the pair is swapped exactly once; the
// new record replaces the old in a single store write. A failed refresh
// forces logout.
func (s *Service) Refresh(ctx context.Context, sessionID string) (string, error) {
	ch := s.inflight.DoChan(sessionID, func() (any, error) {
		return s.refresh(ctx, sessionID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Service) refresh(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return "", &upstream.AuthError{Message: "session expired", Err: err}
	}
	if sess.RefreshToken == "" {
		_ = s.sessions.Delete(ctx, sessionID)
		return "", &upstream.AuthError{Message: "no refresh token"}
	}

	var resp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	body := map[string]string{"refresh": sess.RefreshToken}
	if err := s.api.Post(ctx, nil, "/accounts/token/refresh/", body, &resp); err != nil {
		s.logger.Warn("token refresh failed, forcing logout", "error", err)
		_ = s.sessions.Delete(ctx, sessionID)
		return "", &upstream.AuthError{Message: "token refresh failed", Err: err}
	}

	sess.AccessToken = resp.Access
	if resp.Refresh != "" {
		sess.RefreshToken = resp.Refresh
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	return resp.Access, nil
}

// Logout destroys the session unconditionally. Idempotent.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// Register validates locally, forces the patient role and submits the
// registration. Backend field errors pass through verbatim.
func (s *Service) Register(ctx context.Context, input RegisterInput) error {
	required := []struct{ field, value string }{
		{"email", input.Email},
		{"first_name", input.FirstName},
		{"last_name", input.LastName},
		{"password", input.Password},
		{"password_confirm", input.PasswordConfirm},
		{"phone_number", input.PhoneNumber},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return upstream.NewValidation(f.field, strings.ReplaceAll(f.field, "_", " ")+" is required")
		}
	}
	if input.Password != input.PasswordConfirm {
		return upstream.NewValidation("password_confirm", "passwords do not match")
	}

	input.Role = string(RolePatient)
	return s.api.Post(ctx, nil, "/accounts/register/", input, nil)
}

// Profile fetches the current account profile.
func (s *Service) Profile(ctx context.Context, sessionID string) (*User, error) {
	var user User
	if err := s.api.Get(ctx, s.Credential(sessionID), "/accounts/profile/", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile writes profile changes back to the accounts service.
func (s *Service) UpdateProfile(ctx context.Context, sessionID string, user User) (*User, error) {
	var updated User
	if err := s.api.Put(ctx, s.Credential(sessionID), "/accounts/profile/", user, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ChangePassword submits a password change for the current account.
func (s *Service) ChangePassword(ctx context.Context, sessionID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return upstream.NewValidation("new_password", "new password is required")
	}
	body := map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	}
	return s.api.Post(ctx, s.Credential(sessionID), "/accounts/change-password/", body, nil)
}

// Session loads the raw session record.
func (s *Service) Session(ctx context.Context, sessionID string) (*Session, error) {
	return s.sessions.Load(ctx, sessionID)
}

// Credential binds a session id to the upstream client's token interface.
func (s *Service) Credential(sessionID string) upstream.Credential {
	return &sessionCredential{svc: s, sessionID: sessionID}
}

type sessionCredential struct {
	svc       *Service
	sessionID string
}

func (c *sessionCredential) AccessToken(ctx context.Context) (string, error) {
	sess, err := c.svc.sessions.Load(ctx, c.sessionID)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

func (c *sessionCredential) Refresh(ctx context.Context) (string, error) {
	return c.svc.Refresh(ctx, c.sessionID)
}

// tokenExpired decodes the access token's exp claim without verifying the
// signature; the backend is the signing authority, the portal only needs the
// deadline. Tokens that cannot be parsed count as expired.
func tokenExpired(token string) bool {
	if token == "" {
		return true
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return exp.Before(time.Now())
}

// StatusForError maps an auth flow error onto the HTTP status a handler
// should answer with.
func StatusForError(err error) int {
	switch {
	case upstream.IsValidation(err):
		return http.StatusBadRequest
	case upstream.IsAuth(err):
		return http.StatusUnauthorized
	case err == ErrSessionNotFound:
		return http.StatusUnauthorized
	case upstream.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
