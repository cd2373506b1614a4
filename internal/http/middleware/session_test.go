package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
)

type fakeLoader struct {
	sessions map[string]*auth.Session
	err      error
}

func (f *fakeLoader) Session(_ context.Context, id string) (*auth.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if sess, ok := f.sessions[id]; ok {
		return sess, nil
	}
	return nil, auth.ErrSessionNotFound
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(cookie string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: cookie})
	}
	return r
}

func TestRequireSessionRedirectsWithoutCookie(t *testing.T) {
	h := RequireSession(&fakeLoader{})(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(""))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("expected 303 to /login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestRequireSessionRedirectsUnknownSession(t *testing.T) {
	h := RequireSession(&fakeLoader{})(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("gone"))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
}

func TestRequireSessionStoreOutageIsNotLogout(t *testing.T) {
	loader := &fakeLoader{err: &upstream.APIError{Status: http.StatusBadGateway}}
	h := RequireSession(loader)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("s1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("store outage must answer 503, got %d", rec.Code)
	}
	if rec.Header().Get("Location") != "" {
		t.Error("store outage must not redirect to login")
	}
}

func TestRequireSessionAttachesSession(t *testing.T) {
	loader := &fakeLoader{sessions: map[string]*auth.Session{
		"s1": {ID: "s1", UserID: 7, Role: auth.RoleDoctor},
	}}
	var got *auth.Session
	h := RequireSession(loader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("s1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.UserID != 7 {
		t.Fatalf("session not attached: %+v", got)
	}
}

func TestRequireRolesBouncesToOwnDashboard(t *testing.T) {
	loader := &fakeLoader{sessions: map[string]*auth.Session{
		"p": {ID: "p", Role: auth.RolePatient},
		"d": {ID: "d", Role: auth.RoleDoctor},
	}}
	h := RequireSession(loader)(RequireRoles(auth.RoleDoctor, auth.RoleAdmin)(okHandler()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("p"))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("patient must bounce to /dashboard, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request("d"))
	if rec.Code != http.StatusOK {
		t.Fatalf("doctor must pass, got %d", rec.Code)
	}
}

func TestGuestOnlyBouncesSignedInUsers(t *testing.T) {
	loader := &fakeLoader{sessions: map[string]*auth.Session{
		"d": {ID: "d", Role: auth.RoleDoctor},
	}}
	h := GuestOnly(loader)(okHandler())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/login", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "d"})
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/doctor-dashboard" {
		t.Fatalf("expected 303 to /doctor-dashboard, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestGuestOnlyLetsGuestsAndOutagesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	GuestOnly(&fakeLoader{})(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("guest must pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/login", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s1"})
	GuestOnly(&fakeLoader{err: errors.New("redis down")})(okHandler()).ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("store outage must not block the login page, got %d", rec.Code)
	}
}
